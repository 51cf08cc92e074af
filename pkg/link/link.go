package link

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/robotalks/supercap.go/pkg/can"
	fx "github.com/robotalks/supercap.go/pkg/framework"
	"github.com/robotalks/supercap.go/pkg/protocol"
)

// Timing defaults.
const (
	DefaultHeartbeatInterval = 100 * time.Millisecond
	DefaultPollTimeout       = 50 * time.Millisecond
	DefaultReadErrorBackoff  = 500 * time.Millisecond
)

// OpenFunc opens the bus for a URL.
type OpenFunc func(ctx context.Context, busURL string) (can.Bus, error)

// Stats are the traffic counters of a Link, accumulated across connections.
type Stats struct {
	Sent       uint64
	SendErrors uint64
	Received   uint64
	Malformed  uint64
	Ignored    uint64
	ReadErrors uint64
}

type stats struct {
	sent, sendErrors, received, malformed, ignored, readErrors uint64
}

// Link is the connection to the board. All methods are safe for
// concurrent use. Handlers and timing fields must be set before Connect.
type Link struct {
	HeartbeatInterval time.Duration
	PollTimeout       time.Duration
	ReadErrorBackoff  time.Duration

	Telemetry   TelemetryHandler
	Diagnostics DiagnosticHandler
	Notifier    StateNotifier

	open  OpenFunc
	clock clock.Clock

	// opLock serializes Connect and Disconnect.
	opLock sync.Mutex
	// stateLock guards state and bus. Transmissions hold it for reading
	// so Disconnect cannot release the bus under them.
	stateLock sync.RWMutex
	state     State
	bus       can.Bus
	busURL    string
	ticker    *fx.Ticker
	stop      func()
	done      chan struct{}

	sendLock sync.Mutex
	cmd      commandCell
	autoSend int32
	stats    stats
}

// Option customizes a Link.
type Option func(*Link)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(clk clock.Clock) Option {
	return func(l *Link) { l.clock = clk }
}

// WithOpener replaces can.Open.
func WithOpener(open OpenFunc) Option {
	return func(l *Link) { l.open = open }
}

// WithCommand sets the initial pending command.
func WithCommand(cmd protocol.Command) Option {
	return func(l *Link) { l.cmd.cmd = cmd }
}

// New creates a disconnected Link with the default command and
// auto-send enabled.
func New(opts ...Option) *Link {
	l := &Link{
		HeartbeatInterval: DefaultHeartbeatInterval,
		PollTimeout:       DefaultPollTimeout,
		ReadErrorBackoff:  DefaultReadErrorBackoff,
		open:              can.Open,
		clock:             clock.New(),
		autoSend:          1,
	}
	l.cmd.cmd = protocol.DefaultCommand()
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns the connection state.
func (l *Link) State() State {
	l.stateLock.RLock()
	defer l.stateLock.RUnlock()
	return l.state
}

// BusURL returns the URL of the current or last connection.
func (l *Link) BusURL() string {
	l.stateLock.RLock()
	defer l.stateLock.RUnlock()
	return l.busURL
}

func (l *Link) setState(s State) {
	l.stateLock.Lock()
	l.state = s
	l.stateLock.Unlock()
	l.notify(s)
}

// Connect opens the bus and starts the heartbeat and the receiver. On
// failure the cause is reported as a diagnostic as well as returned,
// and the link stays Disconnected.
func (l *Link) Connect(ctx context.Context, busURL string) error {
	l.opLock.Lock()
	defer l.opLock.Unlock()

	l.stateLock.Lock()
	if l.state != Disconnected {
		l.stateLock.Unlock()
		return ErrAlreadyConnected
	}
	l.state, l.busURL = Connecting, busURL
	l.stateLock.Unlock()
	l.notify(Connecting)

	bus, err := l.open(ctx, busURL)
	if err != nil {
		l.diagf("connect %s: %v", busURL, err)
		l.setState(Disconnected)
		return err
	}

	// the activities outlive ctx, which only bounds opening the bus.
	runner := fx.NewRunner()
	ticker := fx.NewTicker(l.HeartbeatInterval, fx.TickFunc(l.heartbeat)).WithClock(l.clock)
	done := make(chan struct{})

	l.stateLock.Lock()
	l.state, l.bus = Connected, bus
	l.ticker, l.stop, l.done = ticker, runner.Stop, done
	l.stateLock.Unlock()

	// handlers see Connected before any telemetry.
	glog.Infof("connected to %s", busURL)
	l.notify(Connected)
	l.diagf("connected to %s", busURL)

	runner.Go(
		fx.NamedRun("heartbeat", ticker),
		fx.NamedRun("receiver", fx.RunFunc(func(ctx context.Context) error {
			return l.receive(ctx, bus)
		})),
	)
	go func() {
		defer close(done)
		if err := runner.Wait(); err != nil {
			glog.Errorf("link activities: %v", err)
		}
	}()
	return nil
}

// Disconnect stops both activities, waits for them and releases the
// bus. No transmission happens after it returns. It is safe to call in
// any state.
func (l *Link) Disconnect() error {
	l.opLock.Lock()
	defer l.opLock.Unlock()

	l.stateLock.RLock()
	state, stop, done := l.state, l.stop, l.done
	l.stateLock.RUnlock()
	if state != Connected {
		l.diagf("not connected")
		return nil
	}

	stop()
	<-done

	l.stateLock.Lock()
	bus, busURL := l.bus, l.busURL
	l.state, l.bus = Disconnected, nil
	l.ticker, l.stop, l.done = nil, nil, nil
	l.stateLock.Unlock()

	err := bus.Close()
	if err != nil {
		l.diagf("close %s: %v", busURL, err)
	}
	glog.Infof("disconnected from %s", busURL)
	l.notify(Disconnected)
	l.diagf("disconnected")
	return err
}

// Command returns the pending command.
func (l *Link) Command() protocol.Command {
	cmd, _ := l.cmd.load()
	return cmd
}

// UpdateCommand replaces the pending command as a whole. The next
// transmission, by heartbeat or SendOnce, carries it. A restart or
// clear-error flag in cmd is a new request, even if the previous one is
// still in flight.
func (l *Link) UpdateCommand(cmd protocol.Command) {
	l.cmd.store(cmd)
}

// ModifyCommand edits the pending command in place. fn sees the command
// without pending one-shot flags; setting one is a new request, and
// pending requests are kept until sent. Unlike a Command/UpdateCommand
// pair it cannot resurrect a request cleared by a transmission in
// between. The command is kept unchanged when fn fails.
func (l *Link) ModifyCommand(fn func(*protocol.Command) error) (protocol.Command, error) {
	return l.cmd.modify(fn)
}

// SendOnce transmits the pending command now.
func (l *Link) SendOnce() error {
	err := l.transmit()
	if err != nil && err != ErrNotConnected {
		l.diagf("send: %v", err)
	}
	return err
}

// SetAutoSend toggles whether the heartbeat transmits. Enabling it sends
// on the next tick without waiting for a full period.
func (l *Link) SetAutoSend(enabled bool) {
	var v int32
	if enabled {
		v = 1
	}
	if atomic.SwapInt32(&l.autoSend, v) == v || !enabled {
		return
	}
	l.stateLock.RLock()
	ticker := l.ticker
	l.stateLock.RUnlock()
	if ticker != nil {
		ticker.TriggerNext()
	}
}

// AutoSend reports whether the heartbeat transmits.
func (l *Link) AutoSend() bool {
	return atomic.LoadInt32(&l.autoSend) != 0
}

// Stats returns a snapshot of the counters.
func (l *Link) Stats() Stats {
	return Stats{
		Sent:       atomic.LoadUint64(&l.stats.sent),
		SendErrors: atomic.LoadUint64(&l.stats.sendErrors),
		Received:   atomic.LoadUint64(&l.stats.received),
		Malformed:  atomic.LoadUint64(&l.stats.malformed),
		Ignored:    atomic.LoadUint64(&l.stats.ignored),
		ReadErrors: atomic.LoadUint64(&l.stats.readErrors),
	}
}

// transmit sends the current command snapshot. The snapshot is taken
// under the send lock and the one-shot requests are cleared before it is
// released, so a request goes out once unless it is asked for again
// while on the wire.
func (l *Link) transmit() error {
	l.stateLock.RLock()
	defer l.stateLock.RUnlock()
	if l.state != Connected {
		return ErrNotConnected
	}
	l.sendLock.Lock()
	defer l.sendLock.Unlock()
	cmd, req := l.cmd.load()
	frame := can.Frame{
		ID:   protocol.ControlCommandID,
		Data: protocol.AppendCommand(make([]byte, 0, can.MaxDataLength), cmd, can.PadLength(l.bus)),
	}
	if err := l.bus.Send(frame); err != nil {
		atomic.AddUint64(&l.stats.sendErrors, 1)
		return errors.Wrap(err, "transmit command")
	}
	atomic.AddUint64(&l.stats.sent, 1)
	if glog.V(4) {
		glog.Infof("TX %s", frame)
	}
	if cmd.HasOneShot() && l.cmd.clearOneShot(req) {
		glog.V(2).Infof("one-shot requests sent, cleared")
	}
	return nil
}
