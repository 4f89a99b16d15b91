package store

import "context"

// Entry is a key/value pair written by KV.Set.
type Entry struct {
	Key   Key
	Value []byte
}

// ScanOptions controls a prefix scan.
type ScanOptions struct {
	// Reverse iterates from the largest key down.
	Reverse bool
	// Before restricts a reverse scan to keys strictly lower than it.
	Before Key
	// Limit stops the scan after that many entries. Zero means no limit.
	Limit int
}

// KV is the durable key-value store the message adapter is built on. It offers
// per-key atomic writes; Set with several entries is applied as one batch when
// the backend supports it.
type KV interface {
	Get(ctx context.Context, key Key) ([]byte, error)
	Set(ctx context.Context, entries ...Entry) error
	Delete(ctx context.Context, keys ...Key) error
	Scan(ctx context.Context, prefix Key, opts ScanOptions, fn func(key Key, value []byte) error) error
	Close() error
}
