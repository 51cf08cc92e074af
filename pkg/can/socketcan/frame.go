// Package socketcan provides a Linux SocketCAN bus, registered as
// "socketcan://<ifname>".
package socketcan

import (
	"encoding/binary"
	"fmt"

	"github.com/robotalks/supercap.go/pkg/can"
)

// Kernel struct can_frame layout.
const (
	frameSize = 16

	flagEFF uint32 = 0x80000000
	flagRTR uint32 = 0x40000000
	flagERR uint32 = 0x20000000
	maskSFF uint32 = 0x000007ff
	maskEFF uint32 = 0x1fffffff
)

// CommandPadLength is the payload length used for outgoing frames.
// SocketCAN takes the 7-byte command as is.
const CommandPadLength = 7

// errNotData is returned for remote and error frames, which carry no telemetry.
var errNotData = fmt.Errorf("not a data frame")

func marshalFrame(f can.Frame) ([frameSize]byte, error) {
	var buf [frameSize]byte
	if len(f.Data) > can.MaxDataLength {
		return buf, can.ErrDataTooLong
	}
	id := f.ID & maskSFF
	if f.Extended {
		id = f.ID&maskEFF | flagEFF
	}
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = byte(len(f.Data))
	copy(buf[8:], f.Data)
	return buf, nil
}

func unmarshalFrame(buf []byte) (can.Frame, error) {
	if len(buf) < frameSize {
		return can.Frame{}, fmt.Errorf("incomplete CAN frame received: %d bytes", len(buf))
	}
	raw := binary.LittleEndian.Uint32(buf[0:4])
	if raw&(flagRTR|flagERR) != 0 {
		return can.Frame{}, errNotData
	}
	dlc := int(buf[4])
	if dlc > can.MaxDataLength {
		dlc = can.MaxDataLength
	}
	f := can.Frame{Data: append([]byte(nil), buf[8:8+dlc]...)}
	if raw&flagEFF != 0 {
		f.ID, f.Extended = raw&maskEFF, true
	} else {
		f.ID = raw & maskSFF
	}
	return f, nil
}
