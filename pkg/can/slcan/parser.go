package slcan

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/robotalks/supercap.go/pkg/can"
)

// Line terminators of the SLCAN ASCII protocol.
const (
	charCR   byte = '\r'
	charBELL byte = 0x07
)

// maxLineLength covers "T" + 8 id digits + dlc + 16 data digits + timestamp.
const maxLineLength = 32

// ParseResult is the outcome of one Parse step.
type ParseResult struct {
	// Frame is set when a complete data frame was received.
	Frame *can.Frame
	// Err is set when the adapter replied BELL or a line is not valid.
	Err error
}

// Parser assembles SLCAN lines from a byte stream.
type Parser struct {
	line      []byte
	overflown bool
}

// Reset drops a partially received line.
func (p *Parser) Reset() {
	p.line, p.overflown = p.line[:0], false
}

// Parse consumes one byte.
func (p *Parser) Parse(b byte) (pr ParseResult) {
	switch b {
	case charCR:
		if p.overflown {
			pr.Err = fmt.Errorf("slcan: line too long")
		} else if len(p.line) > 0 {
			pr.Frame, pr.Err = parseLine(p.line)
		}
		p.Reset()
	case charBELL:
		pr.Err = fmt.Errorf("slcan: adapter error")
		p.Reset()
	default:
		if len(p.line) >= maxLineLength {
			p.overflown = true
			return
		}
		p.line = append(p.line, b)
	}
	return
}

// parseLine returns nil without error for acknowledgements and replies
// which are not data frames.
func parseLine(line []byte) (*can.Frame, error) {
	var idLen int
	var extended bool
	switch line[0] {
	case 't':
		idLen = 3
	case 'T':
		idLen, extended = 8, true
	case 'r', 'R', 'z', 'Z', 'V', 'N', 'F':
		return nil, nil
	default:
		return nil, fmt.Errorf("slcan: unexpected line %q", line)
	}
	if len(line) < 1+idLen+1 {
		return nil, fmt.Errorf("slcan: short frame %q", line)
	}
	id, err := strconv.ParseUint(string(line[1:1+idLen]), 16, 32)
	if err != nil {
		return nil, fmt.Errorf("slcan: frame id %q: %v", line, err)
	}
	dlc := int(line[1+idLen] - '0')
	if dlc < 0 || dlc > can.MaxDataLength {
		return nil, fmt.Errorf("slcan: frame dlc %q", line)
	}
	dataStart := 2 + idLen
	if len(line) < dataStart+dlc*2 {
		return nil, fmt.Errorf("slcan: short frame data %q", line)
	}
	// Anything after the data is an optional timestamp.
	data := make([]byte, dlc)
	if _, err = hex.Decode(data, line[dataStart:dataStart+dlc*2]); err != nil {
		return nil, fmt.Errorf("slcan: frame data %q: %v", line, err)
	}
	return &can.Frame{ID: uint32(id), Extended: extended, Data: data}, nil
}

// AppendFrame appends the SLCAN transmit line for f, including the
// trailing CR.
func AppendFrame(dst []byte, f can.Frame) ([]byte, error) {
	if len(f.Data) > can.MaxDataLength {
		return dst, can.ErrDataTooLong
	}
	if f.Extended {
		dst = append(dst, fmt.Sprintf("T%08X%d", f.ID&0x1fffffff, len(f.Data))...)
	} else {
		dst = append(dst, fmt.Sprintf("t%03X%d", f.ID&0x7ff, len(f.Data))...)
	}
	for _, b := range f.Data {
		dst = append(dst, "0123456789ABCDEF"[b>>4], "0123456789ABCDEF"[b&0x0f])
	}
	return append(dst, charCR), nil
}
