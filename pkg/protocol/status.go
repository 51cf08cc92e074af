package protocol

import (
	"fmt"
	"strings"
)

// ProtocolVersion selects how the status byte is interpreted.
// It must match the firmware running on the board.
type ProtocolVersion int

// Protocol versions.
const (
	// ProtocolV1 has a 2-bit limit field and the wireless charging bits.
	ProtocolV1 ProtocolVersion = iota + 1
	// ProtocolV2 has a 3-bit limit field.
	ProtocolV2
)

// DefaultProtocolVersion matches the released firmware.
const DefaultProtocolVersion = ProtocolV1

// String implements fmt.Stringer.
func (v ProtocolVersion) String() string {
	switch v {
	case ProtocolV1:
		return "v1"
	case ProtocolV2:
		return "v2"
	}
	return fmt.Sprintf("v?(%d)", int(v))
}

// ParseProtocolVersion accepts "v1", "1", "v2" or "2".
func ParseProtocolVersion(s string) (ProtocolVersion, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "v1", "1":
		return ProtocolV1, nil
	case "v2", "2":
		return ProtocolV2, nil
	}
	return 0, fmt.Errorf("unknown protocol version %q", s)
}

// Status bits shared by both versions.
const (
	StatusPowerStageOn      uint8 = 1 << 7
	StatusNewFeedbackFormat uint8 = 1 << 6
)

var (
	limitLabelsV1 = []string{"None", "Vcap Max", "Vbus Max", "Ibus Max"}
	limitLabelsV2 = []string{"None", "Vcap Max", "Vbus Max", "Ibus Max", "I_L Max"}
	errorLabelsV1 = []string{"No Error", "Auto-Recover", "Manual Recover", "Unrecoverable"}
	errorLabelsV2 = []string{"No Error", "Warning", "Error", "Fatal"}
	wirelessV1    = []string{"Unavailable", "Off", "Charging", "Finished"}
)

// Label is an index into a status table with its display text.
type Label struct {
	Index int
	Text  string
}

// String implements fmt.Stringer.
func (l Label) String() string {
	return l.Text
}

func lookup(table []string, index int) Label {
	if index < 0 || index >= len(table) {
		index = 0
	}
	return Label{Index: index, Text: table[index]}
}

// Status is the expanded status byte.
type Status struct {
	Raw               uint8
	Version           ProtocolVersion
	PowerStageOn      bool
	NewFeedbackFormat bool
	LimitReason       Label
	ErrorLevel        Label
	// WirelessCharging is only reported by ProtocolV1, it is nil otherwise.
	WirelessCharging *Label
}

// DecodeStatus expands a raw status byte. Indexes outside a table
// clamp to entry 0. It never fails; unknown versions decode as v1.
func DecodeStatus(raw uint8, v ProtocolVersion) Status {
	s := Status{
		Raw:               raw,
		Version:           v,
		PowerStageOn:      raw&StatusPowerStageOn != 0,
		NewFeedbackFormat: raw&StatusNewFeedbackFormat != 0,
	}
	if v == ProtocolV2 {
		s.LimitReason = lookup(limitLabelsV2, int(raw>>2)&0x07)
		s.ErrorLevel = lookup(errorLabelsV2, int(raw)&0x03)
		return s
	}
	s.Version = ProtocolV1
	s.LimitReason = lookup(limitLabelsV1, int(raw>>2)&0x03)
	s.ErrorLevel = lookup(errorLabelsV1, int(raw)&0x03)
	wpt := lookup(wirelessV1, int(raw>>4)&0x03)
	s.WirelessCharging = &wpt
	return s
}

// String renders the status the way the monitor prints it.
func (s Status) String() string {
	var sb strings.Builder
	if s.PowerStageOn {
		sb.WriteString("power stage on")
	} else {
		sb.WriteString("power stage off")
	}
	fmt.Fprintf(&sb, ", limit: %s, error: %s", s.LimitReason, s.ErrorLevel)
	if s.WirelessCharging != nil {
		fmt.Fprintf(&sb, ", wireless: %s", s.WirelessCharging)
	}
	return sb.String()
}
