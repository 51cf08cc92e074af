package link

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/robotalks/supercap.go/pkg/can"
	"github.com/robotalks/supercap.go/pkg/protocol"
)

// receive polls the bus until ctx is done. The poll timeout bounds how
// long Disconnect waits for it.
func (l *Link) receive(ctx context.Context, bus can.Bus) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		frame, ok, err := bus.Receive(l.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			atomic.AddUint64(&l.stats.readErrors, 1)
			l.diagf("receive: %v", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.clock.After(l.ReadErrorBackoff):
			}
			continue
		}
		if ok {
			l.handleFrame(ctx, frame)
		}
	}
}

func (l *Link) handleFrame(ctx context.Context, frame can.Frame) {
	if frame.Extended {
		atomic.AddUint64(&l.stats.ignored, 1)
		return
	}
	t, err := protocol.Decode(frame.ID, frame.Data)
	if err != nil {
		var malformed *protocol.MalformedFrameError
		if errors.As(err, &malformed) {
			atomic.AddUint64(&l.stats.malformed, 1)
			l.diagf("%v", err)
		} else {
			atomic.AddUint64(&l.stats.ignored, 1)
		}
		return
	}
	atomic.AddUint64(&l.stats.received, 1)
	if glog.V(4) {
		glog.Infof("RX %s", frame)
	}
	if h := l.Telemetry; h != nil {
		h.HandleTelemetry(ctx, t.StampedAt(l.clock.Now()))
	}
}
