package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

// BadgerKV implements KV on top of an embedded BadgerDB.
type BadgerKV struct {
	db *badger.DB
}

var _ KV = (*BadgerKV)(nil)

// OpenBadger opens (or creates) the database at path. An empty path opens an
// in-memory database.
func OpenBadger(path string, log zerolog.Logger) (*BadgerKV, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(badgerLogger{log: log.With().Str("component", "badger").Logger()}).
		WithLoggingLevel(badger.WARNING)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	return &BadgerKV{db: db}, nil
}

// NewBadgerKV wraps an already opened database.
func NewBadgerKV(db *badger.DB) *BadgerKV {
	return &BadgerKV{db: db}
}

func (b *BadgerKV) Get(ctx context.Context, key Key) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrKeyNotFound
	}
	return value, err
}

// Set writes all entries in a single transaction.
func (b *BadgerKV) Set(ctx context.Context, entries ...Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		for _, e := range entries {
			if err := txn.Set(e.Key, e.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes keys through a write batch; missing keys are ignored.
func (b *BadgerKV) Delete(ctx context.Context, keys ...Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (b *BadgerKV) Scan(ctx context.Context, prefix Key, opts ScanOptions, fn func(key Key, value []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		iterOpts.Reverse = opts.Reverse
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		seek := []byte(prefix)
		switch {
		case opts.Reverse && opts.Before != nil:
			seek = opts.Before
		case opts.Reverse:
			// Largest possible key under the prefix.
			seek = append(append([]byte{}, prefix...), 0xFF)
		}

		count := 0
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			if opts.Before != nil && bytes.Equal(item.Key(), opts.Before) {
				continue
			}
			if opts.Limit > 0 && count == opts.Limit {
				break
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(item.KeyCopy(nil), value); err != nil {
				return err
			}
			count++
		}
		return nil
	})
}

// DropAll removes every key. Only offline tooling should call it.
func (b *BadgerKV) DropAll() error {
	return b.db.DropAll()
}

func (b *BadgerKV) Close() error {
	return b.db.Close()
}

// badgerLogger routes badger's internal logging through zerolog.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Info().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}
