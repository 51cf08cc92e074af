// Package sim provides a simulated supercapacitor board speaking the CAN
// protocol, registered as "sim://".
//
//	sim://?format=new&rate=100ms&queue=64
package sim

import (
	"context"
	"math"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/robotalks/supercap.go/pkg/can"
	fx "github.com/robotalks/supercap.go/pkg/framework"
	"github.com/robotalks/supercap.go/pkg/protocol"
)

func init() {
	can.Register(can.Driver{Scheme: "sim", Open: openURL})
}

// DefaultFeedbackRate is how often the board reports.
const DefaultFeedbackRate = 100 * time.Millisecond

// Electrical model.
const (
	capMaxVoltage  = 28.0
	capCapacitance = 6.0 // F
	// maxChargePower is what the board may draw above the referee limit.
	maxChargePower = 20.0
	baseLoad       = 40.0
	loadSwing      = 25.0
)

// Error levels the board reports in the status byte.
const (
	ErrorNone uint8 = iota
	ErrorAutoRecover
	ErrorManualRecover
	ErrorUnrecoverable
)

// Board simulates the power management board. The host side talks to
// it through the can.Bus methods.
type Board struct {
	format protocol.Format
	rate   time.Duration
	clock  clock.Clock
	toHost *can.Queue

	lock        sync.Mutex
	cmd         protocol.Command
	commandSeen bool
	capVoltage  float64
	phase       float64
	errorLevel  uint8
	restarts    int
	commands    int
	lastTick    time.Time

	cancel func()
	done   chan struct{}
}

// Option customizes a Board.
type Option func(*Board)

// WithFormat sets the feedback format used until a command selects one.
func WithFormat(f protocol.Format) Option {
	return func(b *Board) { b.format = f }
}

// WithRate sets the feedback rate.
func WithRate(d time.Duration) Option {
	return func(b *Board) { b.rate = d }
}

// WithClock replaces the wall clock.
func WithClock(clk clock.Clock) Option {
	return func(b *Board) { b.clock = clk }
}

// WithQueueCapacity sets how many feedback frames are buffered for the host.
func WithQueueCapacity(n int) Option {
	return func(b *Board) { b.toHost = can.NewQueue(n) }
}

// NewBoard creates a Board which is not reporting yet, see Start.
func NewBoard(opts ...Option) *Board {
	b := &Board{
		format:     protocol.FormatNew,
		rate:       DefaultFeedbackRate,
		clock:      clock.New(),
		cmd:        protocol.DefaultCommand(),
		capVoltage: capMaxVoltage / 2,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.toHost == nil {
		b.toHost = can.NewQueue(can.DefaultQueueCapacity)
	}
	return b
}

func openURL(_ context.Context, u *url.URL) (can.Bus, error) {
	var opts []Option
	q := u.Query()
	switch q.Get("format") {
	case "", "new":
	case "old":
		opts = append(opts, WithFormat(protocol.FormatOld))
	default:
		return nil, errors.Errorf("sim: unknown format %q", q.Get("format"))
	}
	if s := q.Get("rate"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return nil, errors.Errorf("sim: invalid rate %q", s)
		}
		opts = append(opts, WithRate(d))
	}
	if s := q.Get("queue"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, errors.Wrapf(err, "sim: queue %q", s)
		}
		opts = append(opts, WithQueueCapacity(n))
	}
	b := NewBoard(opts...)
	b.Start()
	return b, nil
}

// Start reports feedback periodically until Close.
func (b *Board) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel, b.done = cancel, make(chan struct{})
	ticker := fx.NewTicker(b.rate, b).WithClock(b.clock)
	go func() {
		defer close(b.done)
		ticker.Run(ctx)
	}()
}

// Tick implements framework.TickHandler. It advances the model and
// queues one feedback frame.
func (b *Board) Tick(_ context.Context, now time.Time) {
	id, data := b.Step(now)
	b.toHost.Push(can.Frame{ID: id, Data: data})
}

// Step advances the model to now and encodes the feedback frame.
func (b *Board) Step(now time.Time) (uint32, []byte) {
	b.lock.Lock()
	defer b.lock.Unlock()
	dt := b.rate.Seconds()
	if !b.lastTick.IsZero() {
		dt = now.Sub(b.lastTick).Seconds()
	}
	b.lastTick = now

	b.phase += dt
	load := baseLoad + loadSwing*math.Sin(b.phase)
	limit := float64(b.cmd.RefereePowerLimit)
	outputOn := b.cmd.EnableDCDC && b.errorLevel < ErrorManualRecover

	referee := load
	limitReason := 0
	if outputOn {
		// the bank covers what exceeds the referee limit and charges with the rest.
		charge := limit - load
		if b.cmd.EnableActiveChargingLimit {
			charge = math.Min(charge, maxChargePower*float64(b.cmd.ActiveChargingLimitRatio)/255)
		}
		energy := 0.5*capCapacitance*b.capVoltage*b.capVoltage + charge*dt
		if energy < 0 {
			energy = 0
		}
		b.capVoltage = math.Sqrt(2 * energy / capCapacitance)
		if b.capVoltage >= capMaxVoltage {
			b.capVoltage = capMaxVoltage
			limitReason = 1 // Vcap Max
			charge = 0
		}
		referee = load + charge
	}

	format := b.format
	if b.commandSeen {
		format = protocol.FormatOld
		if b.cmd.UseNewFeedback {
			format = protocol.FormatNew
		}
	}
	status := uint8(limitReason<<2) | b.errorLevel&0x03
	if outputOn {
		status |= protocol.StatusPowerStageOn
	}
	if format == protocol.FormatNew {
		status |= protocol.StatusNewFeedbackFormat
	}
	ratio := b.capVoltage / capMaxVoltage
	energy := uint8(math.Round(ratio * ratio * 250))
	t := protocol.NewTelemetry(format, status, load, referee, b.cmd.RefereePowerLimit+uint16(maxChargePower), energy)
	return protocol.EncodeFeedback(t)
}

// SetError forces the reported error level.
func (b *Board) SetError(level uint8) {
	b.lock.Lock()
	b.errorLevel = level & 0x03
	b.lock.Unlock()
}

// LastCommand returns the last command received and the total count.
func (b *Board) LastCommand() (protocol.Command, int) {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.cmd, b.commands
}

// Restarts returns how many restart requests were served.
func (b *Board) Restarts() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.restarts
}

// Inject queues an arbitrary frame for the host, e.g. unrelated bus traffic.
func (b *Board) Inject(f can.Frame) {
	b.toHost.Push(f)
}

// Send implements can.Bus, delivering a frame from the host to the board.
func (b *Board) Send(f can.Frame) error {
	if f.ID != protocol.ControlCommandID || f.Extended {
		return nil
	}
	cmd, err := protocol.DecodeCommand(f.Data)
	if err != nil {
		glog.Warningf("sim: %v", err)
		return nil
	}
	b.lock.Lock()
	defer b.lock.Unlock()
	b.cmd, b.commandSeen = cmd, true
	b.commands++
	if cmd.SystemRestart {
		b.restarts++
		b.capVoltage = capMaxVoltage / 2
		b.errorLevel = ErrorNone
	}
	if cmd.ClearError && b.errorLevel < ErrorUnrecoverable {
		b.errorLevel = ErrorNone
	}
	return nil
}

// Receive implements can.Bus.
func (b *Board) Receive(timeout time.Duration) (can.Frame, bool, error) {
	return b.toHost.Receive(timeout)
}

// Close implements can.Bus.
func (b *Board) Close() error {
	if b.cancel != nil {
		b.cancel()
		<-b.done
		b.cancel = nil
	}
	return b.toHost.Close()
}
