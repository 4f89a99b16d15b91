package store

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKey_NumericPartsSortLexicographically(t *testing.T) {
	req := require.New(t)
	small := NewKey(nsMessages, "general", int64(9), "b")
	large := NewKey(nsMessages, "general", int64(10), "a")
	req.Negative(bytes.Compare(small, large))
	req.Equal("messages:general:0000000000000000009:b", small.String())
}

func TestKey_PrefixDoesNotMatchLongerRoomNames(t *testing.T) {
	prefix := roomPrefix("a")
	require.True(t, bytes.HasPrefix(roomKey("a", 1, "x"), prefix))
	require.False(t, bytes.HasPrefix(roomKey("ab", 1, "x"), prefix))
}

func TestValidKeyPart(t *testing.T) {
	require.True(t, ValidKeyPart("general"))
	require.False(t, ValidKeyPart(""))
	require.False(t, ValidKeyPart("a\x00b"))
}
