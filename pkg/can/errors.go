package can

import "errors"

var (
	// ErrClosed is returned by a closed Bus.
	ErrClosed = errors.New("bus closed")
	// ErrUnknownScheme indicates no driver is registered for the URL scheme.
	ErrUnknownScheme = errors.New("unknown bus scheme")
	// ErrDataTooLong indicates the payload exceeds MaxDataLength.
	ErrDataTooLong = errors.New("frame data too long")
)
