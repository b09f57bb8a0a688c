package link

import "errors"

var (
	// ErrClosed is returned by operations on a closed Dispatcher
	ErrClosed = errors.New("dispatcher closed")
	// ErrDisconnected fails requests outstanding when the transport drops
	ErrDisconnected = errors.New("transport disconnected")
)
