package telemetry

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	fx "github.com/robotalks/supercap.go/pkg/framework"
	"github.com/robotalks/supercap.go/pkg/protocol"
)

// Mux publishes telemetry to multiple sinks.
type Mux struct {
	Sinks []Sink

	failures uint64
}

// Add adds more sinks.
func (m *Mux) Add(sinks ...Sink) {
	m.Sinks = append(m.Sinks, sinks...)
}

// Publish implements Sink. Every sink is tried, errors are aggregated.
func (m *Mux) Publish(ctx context.Context, t protocol.Telemetry) error {
	var errs fx.AggregatedError
	for _, sink := range m.Sinks {
		errs.Add(sink.Publish(ctx, t))
	}
	return errs.Aggregate()
}

// HandleTelemetry publishes from the link's receiver. Failures are
// logged, the first one and then every 100th.
func (m *Mux) HandleTelemetry(ctx context.Context, t protocol.Telemetry) {
	if err := m.Publish(ctx, t); err != nil {
		if n := atomic.AddUint64(&m.failures, 1); n%100 == 1 {
			glog.Warningf("publish telemetry (%d failures): %v", n, err)
		}
	}
}

// Failures returns how many Publish calls from HandleTelemetry failed.
func (m *Mux) Failures() uint64 {
	return atomic.LoadUint64(&m.failures)
}

// Latest keeps the most recent telemetry.
type Latest struct {
	lock  sync.RWMutex
	last  protocol.Telemetry
	valid bool
}

// Publish implements Sink.
func (l *Latest) Publish(_ context.Context, t protocol.Telemetry) error {
	l.lock.Lock()
	l.last, l.valid = t, true
	l.lock.Unlock()
	return nil
}

// Get returns the most recent telemetry, ok is false before any arrived.
func (l *Latest) Get() (t protocol.Telemetry, ok bool) {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return l.last, l.valid
}
