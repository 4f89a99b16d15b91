package websocket

import "errors"

var (
	ErrClientQueueFull   = errors.New("client message queue is full")
	ErrClientClosed      = errors.New("client connection is closed")
	ErrDuplicateUsername = errors.New("username is already connected")
)
