// Package mqtt bridges CAN frames over an MQTT broker, registered as
// "mqtt://host:port/prefix/". A gateway on the CAN side publishes received
// frames to <prefix>rx and transmits what it receives on <prefix>tx.
//
// Each message carries one frame: the id as a little-endian uint32, bit 31
// set for extended ids, followed by the payload.
package mqtt

import (
	"context"
	"encoding/binary"
	"net/url"
	"strconv"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/robotalks/supercap.go/pkg/can"
	"github.com/robotalks/supercap.go/pkg/comm/mqtt"
)

func init() {
	can.Register(can.Driver{Scheme: "mqtt", Open: openURL})
}

// Topics relative to the prefix.
const (
	TopicRx = "rx"
	TopicTx = "tx"
)

// CommandPadLength is the payload length used for outgoing frames.
const CommandPadLength = 8

const (
	extendedFlag   uint32 = 1 << 31
	publishTimeout        = time.Second
)

// Bus receives frames pushed by the subscription callback into a
// bounded can.Queue.
type Bus struct {
	queue *mqtt.Queue
	sub   *mqtt.Subscription
	rx    *can.Queue
}

// EncodeFrame encodes a frame as an MQTT payload.
func EncodeFrame(f can.Frame) ([]byte, error) {
	if len(f.Data) > can.MaxDataLength {
		return nil, can.ErrDataTooLong
	}
	id := f.ID & 0x7ff
	if f.Extended {
		id = f.ID&0x1fffffff | extendedFlag
	}
	buf := make([]byte, 4, 4+len(f.Data))
	binary.LittleEndian.PutUint32(buf, id)
	return append(buf, f.Data...), nil
}

// DecodeFrame decodes an MQTT payload.
func DecodeFrame(payload []byte) (can.Frame, error) {
	if len(payload) < 4 || len(payload) > 4+can.MaxDataLength {
		return can.Frame{}, errors.Errorf("invalid frame payload of %d bytes", len(payload))
	}
	id := binary.LittleEndian.Uint32(payload)
	f := can.Frame{ID: id &^ extendedFlag, Extended: id&extendedFlag != 0}
	f.Data = append([]byte(nil), payload[4:]...)
	return f, nil
}

func openURL(_ context.Context, u *url.URL) (can.Bus, error) {
	capacity := can.DefaultQueueCapacity
	q := u.Query()
	if s := q.Get("queue"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, errors.Wrapf(err, "mqtt bus: queue %q", s)
		}
		capacity = n
	}
	q.Del("queue")
	u2 := *u
	u2.RawQuery = q.Encode()
	queue, err := mqtt.NewQueueFromURL(u2.String(), "supercap")
	if err != nil {
		return nil, err
	}
	return Open(queue, capacity)
}

// Open subscribes the rx topic and connects the queue.
func Open(queue *mqtt.Queue, capacity int) (*Bus, error) {
	b := &Bus{queue: queue, rx: can.NewQueue(capacity)}
	b.sub = queue.Sub(TopicRx, b.handleMsg)
	if err := queue.Connect(); err != nil {
		b.sub.Close()
		queue.Close()
		return nil, errors.Wrap(err, "mqtt bus: connect")
	}
	return b, nil
}

func (b *Bus) handleMsg(_ string, payload []byte) {
	f, err := DecodeFrame(payload)
	if err != nil {
		glog.V(2).Infof("mqtt bus: %v", err)
		return
	}
	b.rx.Push(f)
}

// PadLength implements can.Padded.
func (b *Bus) PadLength() int {
	return CommandPadLength
}

// Send implements can.Bus.
func (b *Bus) Send(f can.Frame) error {
	payload, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	token := b.queue.Pub(TopicTx, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.New("mqtt bus: publish timeout")
	}
	return errors.Wrap(token.Error(), "mqtt bus: publish")
}

// Receive implements can.Bus.
func (b *Bus) Receive(timeout time.Duration) (can.Frame, bool, error) {
	return b.rx.Receive(timeout)
}

// Dropped returns the number of frames dropped because the receiver
// did not keep up.
func (b *Bus) Dropped() uint64 {
	return b.rx.Dropped()
}

// Close implements can.Bus.
func (b *Bus) Close() error {
	b.rx.Close()
	b.sub.Close()
	return b.queue.Close()
}
