// Package mqtt publishes telemetry to an MQTT broker as protobuf
// messages, for remote monitors.
package mqtt

import (
	"context"

	"github.com/golang/glog"
	"github.com/golang/protobuf/proto"

	"github.com/robotalks/supercap.go/pkg/comm/mqtt"
	"github.com/robotalks/supercap.go/pkg/link"
	"github.com/robotalks/supercap.go/pkg/protocol"
	"github.com/robotalks/supercap.go/pkg/telemetry"
)

// Topics relative to the queue prefix.
const (
	TopicTelemetry = "telemetry"
	// TopicState carries the link state, retained.
	TopicState = "state"
)

// Publisher implements telemetry.Sink and link.StateNotifier.
type Publisher struct {
	Queue   *mqtt.Queue
	Version protocol.ProtocolVersion
}

// NewPublisher creates a Publisher with the queue created from brokerURL.
// The queue is not connected, see Connect.
func NewPublisher(brokerURL string, v protocol.ProtocolVersion) (*Publisher, error) {
	opts, prefix, err := mqtt.ClientOptionsFromURL(brokerURL, "supercapd")
	if err != nil {
		return nil, err
	}
	// monitors see the link as gone when the daemon drops off.
	opts.SetBinaryWill(prefix+TopicState, []byte(link.Disconnected.String()), 1, true)
	return &Publisher{Queue: mqtt.NewQueue(opts, prefix), Version: v}, nil
}

// Connect connects the queue.
func (p *Publisher) Connect() error {
	return p.Queue.Connect()
}

// Close clears the retained state and disconnects.
func (p *Publisher) Close() error {
	p.Queue.PubWith(TopicState, []byte(link.Disconnected.String()), 1, true).Wait()
	return p.Queue.Close()
}

// Marshal encodes telemetry as the published payload.
func Marshal(t protocol.Telemetry, v protocol.ProtocolVersion) ([]byte, error) {
	return proto.Marshal(NewTelemetryMsg(telemetry.NewRecord(t, v)))
}

// Unmarshal decodes a published payload.
func Unmarshal(payload []byte) (telemetry.Record, error) {
	var m TelemetryMsg
	if err := proto.Unmarshal(payload, &m); err != nil {
		return telemetry.Record{}, err
	}
	return m.Record(), nil
}

// Publish implements telemetry.Sink. It does not wait for the broker.
func (p *Publisher) Publish(_ context.Context, t protocol.Telemetry) error {
	payload, err := Marshal(t, p.Version)
	if err != nil {
		return err
	}
	// only failures already known, e.g. not connected, are reported.
	if token := p.Queue.Pub(TopicTelemetry, payload); token.WaitTimeout(0) {
		return token.Error()
	}
	return nil
}

// StateChanged implements link.StateNotifier.
func (p *Publisher) StateChanged(s link.State) {
	glog.V(1).Infof("publish link state %s", s)
	p.Queue.PubWith(TopicState, []byte(s.String()), 1, true)
}
