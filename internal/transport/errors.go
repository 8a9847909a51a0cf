package transport

import "errors"

var (
	// ErrConnectionClosed is returned by Send on a closed connection.
	ErrConnectionClosed = errors.New("transport: connection closed")

	// ErrServerClosed is returned by Start after Close.
	ErrServerClosed = errors.New("transport: server closed")
)
