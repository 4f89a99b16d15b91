package database

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestGormLogger_Trace(t *testing.T) {
	req := require.New(t)
	var buf bytes.Buffer
	l := newGormLogger(zerolog.New(&buf), logger.Warn)
	query := func() (string, int64) { return "SELECT 1", 1 }
	ctx := context.Background()

	l.Trace(ctx, time.Now(), query, gorm.ErrRecordNotFound)
	l.Trace(ctx, time.Now(), query, nil)
	req.Empty(buf.String())

	l.Trace(ctx, time.Now(), query, errors.New("connection refused"))
	req.Contains(buf.String(), `"level":"error"`)
	req.Contains(buf.String(), "connection refused")
	req.Contains(buf.String(), `"sql":"SELECT 1"`)
	buf.Reset()

	l.Trace(ctx, time.Now().Add(-time.Second), query, nil)
	req.Contains(buf.String(), "slow query")
	buf.Reset()

	l.LogMode(logger.Silent).Trace(ctx, time.Now(), query, errors.New("ignored"))
	req.Empty(buf.String())
}
