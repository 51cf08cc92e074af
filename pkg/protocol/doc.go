// Package protocol provides the wire codec of the supercapacitor board.
package protocol

// The board and the host exchange single classical CAN frames with
// standard (11-bit) identifiers:
//
//   0x050 host -> board  control command, 7 bytes (8 on padded adapters)
//   0x051 board -> host  feedback, old layout (float32 chassis power)
//   0x052 board -> host  feedback, new layout (fixed point powers)
//
// The board selects the feedback layout from the useNewFeedback bit of
// the last command it received, and echoes its choice in bit 6 of the
// status byte.
//
// Everything here is pure: no I/O, no state.
