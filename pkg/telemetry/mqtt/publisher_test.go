package mqtt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/supercap.go/pkg/protocol"
)

func TestMarshalUnmarshal(t *testing.T) {
	at := time.Unix(1700000000, 5)
	src := protocol.NewTelemetry(protocol.FormatNew, 0xc4, 45.5, 40.25, 100, 120).StampedAt(at)
	payload, err := Marshal(src, protocol.ProtocolV1)
	require.NoError(t, err)

	r, err := Unmarshal(payload)
	require.NoError(t, err)
	assert.True(t, at.Equal(r.Time))
	assert.Equal(t, "new", r.Format)
	assert.Equal(t, uint8(0xc4), r.Status)
	assert.True(t, r.PowerStageOn)
	assert.Equal(t, "Vcap Max", r.LimitReason)
	assert.Equal(t, "No Error", r.ErrorLevel)
	assert.Equal(t, 45.5, r.ChassisPower)
	require.NotNil(t, r.RefereePower)
	assert.Equal(t, 40.25, *r.RefereePower)
	assert.Equal(t, uint16(100), r.ChassisPowerLimit)
	assert.Equal(t, uint8(120), r.CapEnergy)

	payload, err = Marshal(protocol.NewTelemetry(protocol.FormatOld, 0, 1, 0, 2, 3), protocol.ProtocolV2)
	require.NoError(t, err)
	r, err = Unmarshal(payload)
	require.NoError(t, err)
	assert.Nil(t, r.RefereePower)
	assert.True(t, r.Time.IsZero())

	_, err = Unmarshal([]byte{0xff, 0xff})
	assert.Error(t, err)
}

func TestNewPublisher(t *testing.T) {
	p, err := NewPublisher("mqtt://127.0.0.1:1/cap/", protocol.ProtocolV1)
	require.NoError(t, err)
	assert.Equal(t, "cap/", p.Queue.TopicPrefix)
	_, err = NewPublisher("http://x", protocol.ProtocolV1)
	assert.Error(t, err)
}
