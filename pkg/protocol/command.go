package protocol

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Frame identifiers.
const (
	ControlCommandID uint32 = 0x050
	FeedbackOldID    uint32 = 0x051
	FeedbackNewID    uint32 = 0x052
)

// Payload lengths.
const (
	// CommandLength is the unpadded length of an encoded Command.
	CommandLength = 7
	// FeedbackOldLength is the length of the old feedback layout.
	FeedbackOldLength = 8
	// FeedbackNewMinLength is the shortest accepted new feedback payload.
	FeedbackNewMinLength = 7
	// FeedbackNewLength is the full new feedback layout sent by the firmware.
	FeedbackNewLength = 8
)

// Byte 0 flags of the control command.
const (
	FlagEnableDCDC          byte = 1 << 0
	FlagSystemRestart       byte = 1 << 1
	FlagClearError          byte = 1 << 5
	FlagActiveChargingLimit byte = 1 << 6
	FlagUseNewFeedback      byte = 1 << 7

	// bits 2-4 are reserved and always zero on the wire.
	flagsReserved byte = 0x1c
)

// MaxRecommendedEnergyBuffer is the upper bound Validate accepts for RefereeEnergyBuffer.
const MaxRecommendedEnergyBuffer = 60

// Command is the control record sent from the host to the board.
type Command struct {
	EnableDCDC bool `json:"enableDCDC"`
	// SystemRestart is an edge-triggered request, cleared by the link once sent.
	SystemRestart bool `json:"systemRestart"`
	// ClearError is an edge-triggered request, cleared by the link once sent.
	ClearError                bool `json:"clearError"`
	EnableActiveChargingLimit bool `json:"enableActiveChargingLimit"`
	// UseNewFeedback selects the feedback layout the board emits.
	UseNewFeedback bool `json:"useNewFeedback"`

	RefereePowerLimit        uint16 `json:"refereePowerLimit"`        // W
	RefereeEnergyBuffer      uint16 `json:"refereeEnergyBuffer"`      // J
	ActiveChargingLimitRatio uint8  `json:"activeChargingLimitRatio"` // 0-255
}

// DefaultCommand returns the command a fresh link starts with.
func DefaultCommand() Command {
	return Command{
		UseNewFeedback:           true,
		RefereePowerLimit:        80,
		RefereeEnergyBuffer:      50,
		ActiveChargingLimitRatio: 200,
	}
}

// Validate checks the ranges the board expects. The codec never calls it.
func (c Command) Validate() error {
	if c.RefereeEnergyBuffer > MaxRecommendedEnergyBuffer {
		return fmt.Errorf("%w: %d J, want 0-%d", ErrEnergyBufferRange, c.RefereeEnergyBuffer, MaxRecommendedEnergyBuffer)
	}
	return nil
}

// HasOneShot reports whether the command carries an edge-triggered request.
func (c Command) HasOneShot() bool {
	return c.SystemRestart || c.ClearError
}

// WithoutOneShot returns a copy with the edge-triggered requests cleared.
func (c Command) WithoutOneShot() Command {
	c.SystemRestart, c.ClearError = false, false
	return c
}

// String implements fmt.Stringer.
func (c Command) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "dcdc=%s feedback=%s charging-limit=%s limit=%dW buffer=%dJ ratio=%d",
		onOff(c.EnableDCDC), feedbackName(c.UseNewFeedback), onOff(c.EnableActiveChargingLimit),
		c.RefereePowerLimit, c.RefereeEnergyBuffer, c.ActiveChargingLimitRatio)
	if c.SystemRestart {
		sb.WriteString(" +restart")
	}
	if c.ClearError {
		sb.WriteString(" +clear")
	}
	return sb.String()
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func feedbackName(useNew bool) string {
	if useNew {
		return FormatNew.String()
	}
	return FormatOld.String()
}

// Flags packs the boolean fields into byte 0.
func (c Command) Flags() byte {
	var b byte
	if c.EnableDCDC {
		b |= FlagEnableDCDC
	}
	if c.SystemRestart {
		b |= FlagSystemRestart
	}
	if c.ClearError {
		b |= FlagClearError
	}
	if c.EnableActiveChargingLimit {
		b |= FlagActiveChargingLimit
	}
	if c.UseNewFeedback {
		b |= FlagUseNewFeedback
	}
	return b
}

// EncodeCommand encodes the command into its 7-byte little-endian layout.
func EncodeCommand(c Command) [CommandLength]byte {
	var b [CommandLength]byte
	b[0] = c.Flags()
	binary.LittleEndian.PutUint16(b[1:3], c.RefereePowerLimit)
	binary.LittleEndian.PutUint16(b[3:5], c.RefereeEnergyBuffer)
	b[5] = c.ActiveChargingLimitRatio
	return b
}

// AppendCommand appends the encoded command to dst, zero padded up to
// padTo bytes. padTo smaller than CommandLength is ignored.
func AppendCommand(dst []byte, c Command, padTo int) []byte {
	b := EncodeCommand(c)
	dst = append(dst, b[:]...)
	for n := CommandLength; n < padTo; n++ {
		dst = append(dst, 0)
	}
	return dst
}

// DecodeCommand decodes a command payload the way the board does.
// Reserved bits are ignored and padding beyond 7 bytes is accepted.
func DecodeCommand(data []byte) (Command, error) {
	if len(data) < CommandLength {
		return Command{}, &MalformedFrameError{ID: ControlCommandID, Length: len(data), Want: CommandLength}
	}
	flags := data[0] &^ flagsReserved
	return Command{
		EnableDCDC:                flags&FlagEnableDCDC != 0,
		SystemRestart:             flags&FlagSystemRestart != 0,
		ClearError:                flags&FlagClearError != 0,
		EnableActiveChargingLimit: flags&FlagActiveChargingLimit != 0,
		UseNewFeedback:            flags&FlagUseNewFeedback != 0,
		RefereePowerLimit:         binary.LittleEndian.Uint16(data[1:3]),
		RefereeEnergyBuffer:       binary.LittleEndian.Uint16(data[3:5]),
		ActiveChargingLimitRatio:  data[5],
	}, nil
}
