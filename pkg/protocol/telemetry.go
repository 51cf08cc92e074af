package protocol

import (
	"encoding/binary"
	"math"
	"time"
)

// Format identifies the feedback wire layout.
type Format int

// Feedback formats.
const (
	FormatOld Format = iota
	FormatNew
)

// String implements fmt.Stringer.
func (f Format) String() string {
	if f == FormatNew {
		return "new"
	}
	return "old"
}

// ID returns the frame id carrying the format.
func (f Format) ID() uint32 {
	if f == FormatNew {
		return FeedbackNewID
	}
	return FeedbackOldID
}

// Fixed point encoding of powers in the new layout:
// raw = watts*64 + 16384.
const (
	PowerBias  = 16384
	PowerScale = 64.0
)

// Telemetry is one decoded feedback frame. It is a value type and
// is never modified after Decode returns it.
type Telemetry struct {
	Format            Format
	Status            uint8
	ChassisPower      float64 // W
	ChassisPowerLimit uint16  // W
	CapEnergy         uint8   // 0-250

	// ID is the frame id the telemetry arrived on.
	ID uint32
	// ReceivedAt is stamped by the link, zero when decoded directly.
	ReceivedAt time.Time

	refereePower    float64
	hasRefereePower bool
}

// NewTelemetry builds a Telemetry for encoding, mostly on the board side.
// refereePower is only kept for FormatNew.
func NewTelemetry(format Format, status uint8, chassisPower, refereePower float64, limit uint16, energy uint8) Telemetry {
	t := Telemetry{
		ID:                format.ID(),
		Format:            format,
		Status:            status,
		ChassisPower:      chassisPower,
		ChassisPowerLimit: limit,
		CapEnergy:         energy,
	}
	if format == FormatNew {
		t.refereePower, t.hasRefereePower = refereePower, true
	}
	return t
}

// RefereePower returns the referee power. ok is false for the old
// format, where the field does not exist on the wire.
func (t Telemetry) RefereePower() (watts float64, ok bool) {
	return t.refereePower, t.hasRefereePower
}

// StampedAt returns a copy with ReceivedAt set.
func (t Telemetry) StampedAt(at time.Time) Telemetry {
	t.ReceivedAt = at
	return t
}

// DecodeStatus expands the status byte.
func (t Telemetry) DecodeStatus(v ProtocolVersion) Status {
	return DecodeStatus(t.Status, v)
}

// Decode decodes a feedback frame. It returns ErrUnrecognizedFrame for
// ids outside the protocol and *MalformedFrameError for short payloads.
func Decode(id uint32, data []byte) (Telemetry, error) {
	switch id {
	case FeedbackNewID:
		if len(data) < FeedbackNewMinLength {
			return Telemetry{}, &MalformedFrameError{ID: id, Length: len(data), Want: FeedbackNewMinLength}
		}
		return decodeNew(data), nil
	case FeedbackOldID:
		if len(data) < FeedbackOldLength {
			return Telemetry{}, &MalformedFrameError{ID: id, Length: len(data), Want: FeedbackOldLength}
		}
		return decodeOld(data), nil
	}
	return Telemetry{}, ErrUnrecognizedFrame
}

func decodeNew(data []byte) Telemetry {
	t := Telemetry{
		ID:              FeedbackNewID,
		Format:          FormatNew,
		Status:          data[0],
		ChassisPower:    fixedToWatts(binary.LittleEndian.Uint16(data[1:3])),
		refereePower:    fixedToWatts(binary.LittleEndian.Uint16(data[3:5])),
		hasRefereePower: true,
	}
	if len(data) >= FeedbackNewLength {
		t.ChassisPowerLimit = binary.LittleEndian.Uint16(data[5:7])
		t.CapEnergy = data[7]
	} else {
		// compact 7-byte layout: one byte limit, one byte energy.
		t.ChassisPowerLimit = uint16(data[5])
		t.CapEnergy = data[6]
	}
	return t
}

func decodeOld(data []byte) Telemetry {
	return Telemetry{
		ID:                FeedbackOldID,
		Format:            FormatOld,
		Status:            data[0],
		ChassisPower:      float64(math.Float32frombits(binary.LittleEndian.Uint32(data[1:5]))),
		ChassisPowerLimit: binary.LittleEndian.Uint16(data[5:7]),
		CapEnergy:         data[7],
	}
}

func fixedToWatts(raw uint16) float64 {
	return (float64(raw) - PowerBias) / PowerScale
}

func wattsToFixed(w float64) uint16 {
	v := math.Round(w*PowerScale + PowerBias)
	if v < 0 {
		return 0
	}
	if v > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(v)
}

// EncodeFeedback encodes telemetry the way the firmware does, returning
// the frame id and the full-length payload.
func EncodeFeedback(t Telemetry) (uint32, []byte) {
	if t.Format == FormatNew {
		b := make([]byte, FeedbackNewLength)
		b[0] = t.Status
		binary.LittleEndian.PutUint16(b[1:3], wattsToFixed(t.ChassisPower))
		binary.LittleEndian.PutUint16(b[3:5], wattsToFixed(t.refereePower))
		binary.LittleEndian.PutUint16(b[5:7], t.ChassisPowerLimit)
		b[7] = t.CapEnergy
		return FeedbackNewID, b
	}
	b := make([]byte, FeedbackOldLength)
	b[0] = t.Status
	binary.LittleEndian.PutUint32(b[1:5], math.Float32bits(float32(t.ChassisPower)))
	binary.LittleEndian.PutUint16(b[5:7], t.ChassisPowerLimit)
	b[7] = t.CapEnergy
	return FeedbackOldID, b
}
