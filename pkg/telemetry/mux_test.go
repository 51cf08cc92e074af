package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fx "github.com/robotalks/supercap.go/pkg/framework"
	"github.com/robotalks/supercap.go/pkg/protocol"
)

func TestMuxAggregatesErrors(t *testing.T) {
	var latest Latest
	var calls int
	failing := PublishFunc(func(context.Context, protocol.Telemetry) error {
		calls++
		return errors.New("sink down")
	})
	var m Mux
	m.Add(failing, &latest, failing)

	tm := protocol.NewTelemetry(protocol.FormatNew, 0x80, 10, 12, 80, 50)
	err := m.Publish(context.Background(), tm)
	require.Error(t, err)
	var agg *fx.AggregatedError
	require.True(t, errors.As(err, &agg))
	assert.Len(t, agg.Errors, 2)
	assert.Equal(t, 2, calls)
	got, ok := latest.Get()
	require.True(t, ok)
	assert.Equal(t, tm, got)

	m.HandleTelemetry(context.Background(), tm)
	assert.Equal(t, uint64(1), m.Failures())
}

func TestMuxNoError(t *testing.T) {
	var latest Latest
	_, ok := latest.Get()
	assert.False(t, ok)
	m := Mux{Sinks: []Sink{&latest}}
	assert.NoError(t, m.Publish(context.Background(), protocol.Telemetry{}))
	m.HandleTelemetry(context.Background(), protocol.Telemetry{})
	assert.Zero(t, m.Failures())
}

func TestNewRecord(t *testing.T) {
	at := time.Unix(1700000000, 0)
	r := NewRecord(protocol.NewTelemetry(protocol.FormatNew, 0xe9, 45.5, 40, 80, 120).StampedAt(at), protocol.ProtocolV1)
	assert.Equal(t, at, r.Time)
	assert.Equal(t, "new", r.Format)
	assert.True(t, r.PowerStageOn)
	assert.Equal(t, "Vbus Max", r.LimitReason)
	assert.Equal(t, "Auto-Recover", r.ErrorLevel)
	assert.Equal(t, "Charging", r.WirelessCharging)
	require.NotNil(t, r.RefereePower)
	assert.Equal(t, 40.0, *r.RefereePower)

	r = NewRecord(protocol.NewTelemetry(protocol.FormatOld, 0, 1, 0, 80, 1), protocol.ProtocolV2)
	assert.Nil(t, r.RefereePower)
	assert.Empty(t, r.WirelessCharging)
}
