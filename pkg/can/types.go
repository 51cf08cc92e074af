// Package can abstracts the CAN transport used by the link.
//
// A Bus sends and receives single classical CAN frames. Drivers register
// themselves under a URL scheme and are opened with Open.
package can

import (
	"fmt"
	"time"
)

// MaxDataLength is the payload limit of a classical CAN frame.
const MaxDataLength = 8

// Frame is a classical CAN frame with a standard or extended id.
type Frame struct {
	ID       uint32
	Extended bool
	Data     []byte
}

// String implements fmt.Stringer.
func (f Frame) String() string {
	if f.Extended {
		return fmt.Sprintf("%08x#% x", f.ID, f.Data)
	}
	return fmt.Sprintf("%03x#% x", f.ID, f.Data)
}

// Bus is an open CAN transport.
type Bus interface {
	// Send transmits a frame. It is called with the link's send lock held.
	Send(Frame) error
	// Receive waits up to timeout for a frame. ok is false when
	// nothing arrived in time.
	Receive(timeout time.Duration) (frame Frame, ok bool, err error)
	// Close releases the transport. Receive returns ErrClosed afterwards.
	Close() error
}

// Padded is implemented by buses which require outgoing payloads to be
// zero padded to a fixed length.
type Padded interface {
	PadLength() int
}

// PadLength returns the outgoing payload length required by the bus,
// or 0 when the bus takes payloads as they are.
func PadLength(bus Bus) int {
	if p, ok := bus.(Padded); ok {
		return p.PadLength()
	}
	return 0
}
