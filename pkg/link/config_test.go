package link

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/supercap.go/pkg/protocol"
)

func TestConfigNewLink(t *testing.T) {
	conf := NewConfig()
	conf.AutoSend = false
	conf.HeartbeatInterval = 20 * time.Millisecond
	conf.Command.RefereePowerLimit = 120
	l, err := conf.NewLink()
	require.NoError(t, err)
	assert.False(t, l.AutoSend())
	assert.Equal(t, 20*time.Millisecond, l.HeartbeatInterval)
	assert.Equal(t, DefaultPollTimeout, l.PollTimeout)
	assert.Equal(t, uint16(120), l.Command().RefereePowerLimit)
	assert.Equal(t, Disconnected, l.State())

	v, err := conf.ProtocolVersion()
	require.NoError(t, err)
	assert.Equal(t, protocol.DefaultProtocolVersion, v)
}

func TestConfigRejectsInvalid(t *testing.T) {
	conf := NewConfig()
	conf.Command.RefereeEnergyBuffer = 100
	_, err := conf.NewLink()
	assert.ErrorIs(t, err, protocol.ErrEnergyBufferRange)

	conf = NewConfig()
	conf.Protocol = "v9"
	_, err = conf.NewLink()
	assert.Error(t, err)
}

func TestUintFlags(t *testing.T) {
	var u16 uint16
	var u8 uint8
	require.NoError(t, uint16Flag{&u16}.Set("0x50"))
	assert.Equal(t, uint16(80), u16)
	assert.Equal(t, "80", uint16Flag{&u16}.String())
	assert.Error(t, uint16Flag{&u16}.Set("70000"))
	require.NoError(t, uint8Flag{&u8}.Set("200"))
	assert.Equal(t, "200", uint8Flag{&u8}.String())
	assert.Error(t, uint8Flag{&u8}.Set("256"))
}
