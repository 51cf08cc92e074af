package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrUnrecognizedFrame indicates the frame id is not part of the protocol.
	// This is normal filtering of unrelated bus traffic, not a failure.
	ErrUnrecognizedFrame = errors.New("unrecognized frame")
	// ErrEnergyBufferRange indicates the referee energy buffer is out of the recommended range.
	ErrEnergyBufferRange = errors.New("referee energy buffer out of range")
)

// MalformedFrameError is reported when a frame carries a protocol id
// but its payload is too short for the layout.
type MalformedFrameError struct {
	ID     uint32
	Length int
	Want   int
}

// Error implements error.
func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("malformed frame 0x%03x: %d bytes, want at least %d", e.ID, e.Length, e.Want)
}
