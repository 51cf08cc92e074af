package link

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/supercap.go/pkg/protocol"
)

// TelemetryHandler is called for each decoded feedback frame, on the
// receiver goroutine. It should return quickly.
type TelemetryHandler interface {
	HandleTelemetry(context.Context, protocol.Telemetry)
}

// HandleTelemetryFunc is func type of TelemetryHandler.
type HandleTelemetryFunc func(context.Context, protocol.Telemetry)

// HandleTelemetry implements TelemetryHandler.
func (f HandleTelemetryFunc) HandleTelemetry(ctx context.Context, t protocol.Telemetry) {
	f(ctx, t)
}

// Diagnostic is a human readable report of a condition on the link.
type Diagnostic struct {
	Time    time.Time
	Message string
}

// String implements fmt.Stringer.
func (d Diagnostic) String() string {
	return d.Time.Format("15:04:05.000") + " " + d.Message
}

// DiagnosticHandler receives diagnostics. It may be called from any
// goroutine of the link.
type DiagnosticHandler interface {
	HandleDiagnostic(Diagnostic)
}

// HandleDiagnosticFunc is func type of DiagnosticHandler.
type HandleDiagnosticFunc func(Diagnostic)

// HandleDiagnostic implements DiagnosticHandler.
func (f HandleDiagnosticFunc) HandleDiagnostic(d Diagnostic) {
	f(d)
}

// StateNotifier is called when the connection state changes.
type StateNotifier interface {
	StateChanged(State)
}

// StateChangedFunc is func type of StateNotifier.
type StateChangedFunc func(State)

// StateChanged implements StateNotifier.
func (f StateChangedFunc) StateChanged(s State) {
	f(s)
}

// Channels adapts the handlers to bounded channels for consumers
// running their own loop. Sends never block; when a channel is full
// the item is dropped and counted.
type Channels struct {
	Telemetry   chan protocol.Telemetry
	Diagnostics chan Diagnostic
	States      chan State

	dropped uint64
}

// NewChannels creates Channels with the given capacity for each channel.
func NewChannels(capacity int) *Channels {
	return &Channels{
		Telemetry:   make(chan protocol.Telemetry, capacity),
		Diagnostics: make(chan Diagnostic, capacity),
		States:      make(chan State, capacity),
	}
}

// Attach registers the channels as the handlers of l.
func (c *Channels) Attach(l *Link) {
	l.Telemetry, l.Diagnostics, l.Notifier = c, c, c
}

// HandleTelemetry implements TelemetryHandler.
func (c *Channels) HandleTelemetry(_ context.Context, t protocol.Telemetry) {
	select {
	case c.Telemetry <- t:
	default:
		atomic.AddUint64(&c.dropped, 1)
	}
}

// HandleDiagnostic implements DiagnosticHandler.
func (c *Channels) HandleDiagnostic(d Diagnostic) {
	select {
	case c.Diagnostics <- d:
	default:
		atomic.AddUint64(&c.dropped, 1)
	}
}

// StateChanged implements StateNotifier.
func (c *Channels) StateChanged(s State) {
	select {
	case c.States <- s:
	default:
		atomic.AddUint64(&c.dropped, 1)
	}
}

// Dropped returns how many items were dropped.
func (c *Channels) Dropped() uint64 {
	return atomic.LoadUint64(&c.dropped)
}

// LogDiagnostics logs diagnostics with glog, used when no handler is set.
var LogDiagnostics = HandleDiagnosticFunc(func(d Diagnostic) {
	glog.Warning(d.Message)
})

func (l *Link) diagf(format string, args ...interface{}) {
	d := Diagnostic{Time: l.clock.Now(), Message: fmt.Sprintf(format, args...)}
	glog.V(1).Infof("diagnostic: %s", d.Message)
	if h := l.Diagnostics; h != nil {
		h.HandleDiagnostic(d)
	} else {
		LogDiagnostics(d)
	}
}

func (l *Link) notify(s State) {
	if n := l.Notifier; n != nil {
		n.StateChanged(s)
	}
}
