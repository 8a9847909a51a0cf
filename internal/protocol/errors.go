package protocol

import "errors"

var (
	// ErrUndecodable is returned when no decoder accepts a frame.
	ErrUndecodable = errors.New("protocol: no decoder matched frame")

	// ErrInvalidMessage is returned when encoding a malformed Message.
	ErrInvalidMessage = errors.New("protocol: invalid message")
)
