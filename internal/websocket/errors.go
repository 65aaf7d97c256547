package websocket

import "errors"

var (
	ErrClientQueueFull = errors.New("client message queue is full")
	ErrClientClosed    = errors.New("client is closed")
	ErrInvalidMessage  = errors.New("invalid message format")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrUnknownEvent    = errors.New("unknown event type")
)
