package link

import "errors"

var (
	// ErrNotConnected is returned when an operation needs the bus.
	ErrNotConnected = errors.New("not connected")
	// ErrAlreadyConnected is returned by Connect unless disconnected.
	ErrAlreadyConnected = errors.New("already connected")
)
