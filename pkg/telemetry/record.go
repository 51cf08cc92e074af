// Package telemetry forwards decoded feedback to external consumers.
package telemetry

import (
	"context"
	"time"

	"github.com/robotalks/supercap.go/pkg/protocol"
)

// Sink consumes telemetry.
type Sink interface {
	Publish(ctx context.Context, t protocol.Telemetry) error
}

// PublishFunc is func type of Sink.
type PublishFunc func(context.Context, protocol.Telemetry) error

// Publish implements Sink.
func (f PublishFunc) Publish(ctx context.Context, t protocol.Telemetry) error {
	return f(ctx, t)
}

// Record is the self-describing form of telemetry sent to monitors,
// with the status byte expanded.
type Record struct {
	Time              time.Time `json:"time"`
	Format            string    `json:"format"`
	Status            uint8     `json:"status"`
	PowerStageOn      bool      `json:"powerStageOn"`
	LimitReason       string    `json:"limitReason"`
	ErrorLevel        string    `json:"errorLevel"`
	WirelessCharging  string    `json:"wirelessCharging,omitempty"`
	ChassisPower      float64   `json:"chassisPower"`
	RefereePower      *float64  `json:"refereePower,omitempty"`
	ChassisPowerLimit uint16    `json:"chassisPowerLimit"`
	CapEnergy         uint8     `json:"capEnergy"`
}

// NewRecord expands t using the protocol version v.
func NewRecord(t protocol.Telemetry, v protocol.ProtocolVersion) Record {
	st := t.DecodeStatus(v)
	r := Record{
		Time:              t.ReceivedAt,
		Format:            t.Format.String(),
		Status:            t.Status,
		PowerStageOn:      st.PowerStageOn,
		LimitReason:       st.LimitReason.Text,
		ErrorLevel:        st.ErrorLevel.Text,
		ChassisPower:      t.ChassisPower,
		ChassisPowerLimit: t.ChassisPowerLimit,
		CapEnergy:         t.CapEnergy,
	}
	if st.WirelessCharging != nil {
		r.WirelessCharging = st.WirelessCharging.Text
	}
	if ref, ok := t.RefereePower(); ok {
		r.RefereePower = &ref
	}
	return r
}
