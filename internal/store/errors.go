package store

import "errors"

var (
	ErrKeyNotFound      = errors.New("key not found")
	ErrMessageNotFound  = errors.New("message not found")
	ErrNotAuthorized    = errors.New("not authorized")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInvalidMessage   = errors.New("invalid message")
)
