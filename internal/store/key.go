package store

import (
	"bytes"
	"fmt"
)

const (
	keySeparator = 0x00

	nsMessages    = "messages"
	nsMessageByID = "message_by_id"
)

// Key is an encoded tuple key. Parts are joined by a NUL byte and integers are
// zero padded to 19 digits so that byte order equals numeric order.
type Key []byte

// NewKey encodes parts into a Key. Supported parts are string, int64 and int.
func NewKey(parts ...any) Key {
	var buf bytes.Buffer
	for i, p := range parts {
		if i > 0 {
			buf.WriteByte(keySeparator)
		}
		switch v := p.(type) {
		case string:
			buf.WriteString(v)
		case int64:
			fmt.Fprintf(&buf, "%019d", v)
		case int:
			fmt.Fprintf(&buf, "%019d", v)
		default:
			panic(fmt.Sprintf("store: unsupported key part %T", p))
		}
	}
	return buf.Bytes()
}

// Prefix returns the key followed by a separator, matching every key nested under it.
func (k Key) Prefix() Key {
	p := make(Key, len(k), len(k)+1)
	copy(p, k)
	return append(p, keySeparator)
}

func (k Key) String() string {
	return string(bytes.ReplaceAll(k, []byte{keySeparator}, []byte(":")))
}

// ValidKeyPart reports whether s can be embedded in a key without breaking prefix scans.
func ValidKeyPart(s string) bool {
	return s != "" && bytes.IndexByte([]byte(s), keySeparator) < 0
}

func roomKey(room string, timestamp int64, id string) Key {
	return NewKey(nsMessages, room, timestamp, id)
}

func roomPrefix(room string) Key {
	return NewKey(nsMessages, room).Prefix()
}

func idKey(id string) Key {
	return NewKey(nsMessageByID, id)
}
