package link

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/supercap.go/pkg/can"
	"github.com/robotalks/supercap.go/pkg/protocol"
)

type testBus struct {
	*can.Queue
	pad int

	lock       sync.Mutex
	sent       []can.Frame
	sendErr    error
	closed     int
	lateSends  int
	failReads  int32
	readErrors int32
	gate       *sendGate
}

// sendGate holds Send until released, reporting every entry.
type sendGate struct {
	entered chan struct{}
	release chan struct{}
}

func newSendGate() *sendGate {
	return &sendGate{entered: make(chan struct{}, 64), release: make(chan struct{})}
}

func newTestBus(pad int) *testBus {
	return &testBus{Queue: can.NewQueue(64), pad: pad}
}

func (b *testBus) Send(f can.Frame) error {
	b.lock.Lock()
	gate := b.gate
	b.lock.Unlock()
	if gate != nil {
		gate.entered <- struct{}{}
		<-gate.release
	}
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.closed > 0 {
		b.lateSends++
		return can.ErrClosed
	}
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, f)
	return nil
}

func (b *testBus) Receive(timeout time.Duration) (can.Frame, bool, error) {
	if atomic.LoadInt32(&b.failReads) != 0 {
		atomic.AddInt32(&b.readErrors, 1)
		return can.Frame{}, false, errors.New("bus off")
	}
	return b.Queue.Receive(timeout)
}

func (b *testBus) Close() error {
	b.lock.Lock()
	b.closed++
	b.lock.Unlock()
	return b.Queue.Close()
}

func (b *testBus) sentFrames() []can.Frame {
	b.lock.Lock()
	defer b.lock.Unlock()
	return append([]can.Frame(nil), b.sent...)
}

// paddedTestBus advertises a pad length.
type paddedTestBus struct{ *testBus }

func (b paddedTestBus) PadLength() int { return b.pad }

type linkFixture struct {
	t     *testing.T
	link  *Link
	bus   *testBus
	clock *clock.Mock
	ch    *Channels
}

func newLinkFixture(t *testing.T, pad int) *linkFixture {
	f := &linkFixture{t: t, bus: newTestBus(pad), clock: clock.NewMock(), ch: NewChannels(256)}
	var bus can.Bus = f.bus
	if pad > 0 {
		bus = paddedTestBus{f.bus}
	}
	f.link = New(WithClock(f.clock), WithOpener(func(ctx context.Context, busURL string) (can.Bus, error) {
		return bus, nil
	}))
	f.link.PollTimeout = 5 * time.Millisecond
	f.ch.Attach(f.link)
	return f
}

func (f *linkFixture) connect() {
	require.NoError(f.t, f.link.Connect(context.Background(), "test://"))
	f.t.Cleanup(func() { f.link.Disconnect() })
}

// tickUntil advances the mock clock by heartbeat periods until cond holds.
func (f *linkFixture) tickUntil(cond func() bool) {
	require.Eventually(f.t, func() bool {
		f.clock.Add(f.link.HeartbeatInterval)
		return cond()
	}, 5*time.Second, time.Millisecond)
}

func (f *linkFixture) expectDiagnostic(substr string) {
	timeout := time.After(5 * time.Second)
	for {
		select {
		case d := <-f.ch.Diagnostics:
			if strings.Contains(d.Message, substr) {
				return
			}
		case <-timeout:
			f.t.Fatalf("diagnostic %q not reported", substr)
		}
	}
}

func TestConnectFailure(t *testing.T) {
	ch := NewChannels(16)
	l := New(WithOpener(func(ctx context.Context, busURL string) (can.Bus, error) {
		return nil, errors.New("no such device")
	}))
	ch.Attach(l)
	err := l.Connect(context.Background(), "socketcan://can9")
	require.Error(t, err)
	assert.Equal(t, Disconnected, l.State())
	assert.Equal(t, Connecting, <-ch.States)
	assert.Equal(t, Disconnected, <-ch.States)
	d := <-ch.Diagnostics
	assert.Contains(t, d.Message, "no such device")
	assert.ErrorIs(t, l.SendOnce(), ErrNotConnected)
}

func TestConnectDisconnect(t *testing.T) {
	f := newLinkFixture(t, 0)
	require.NoError(t, f.link.Disconnect())
	f.expectDiagnostic("not connected")

	f.connect()
	assert.Equal(t, Connected, f.link.State())
	assert.Equal(t, "test://", f.link.BusURL())
	assert.ErrorIs(t, f.link.Connect(context.Background(), "test://"), ErrAlreadyConnected)

	require.NoError(t, f.link.Disconnect())
	assert.Equal(t, Disconnected, f.link.State())
	assert.Equal(t, 1, f.bus.closed)
	require.NoError(t, f.link.Disconnect())
	assert.Equal(t, 1, f.bus.closed)
	assert.ErrorIs(t, f.link.SendOnce(), ErrNotConnected)

	var states []State
	for len(f.ch.States) > 0 {
		states = append(states, <-f.ch.States)
	}
	assert.Equal(t, []State{Connecting, Connected, Disconnected}, states)
}

func TestReconnect(t *testing.T) {
	f := newLinkFixture(t, 0)
	f.connect()
	require.NoError(t, f.link.Disconnect())
	f.bus.Queue = can.NewQueue(4)
	f.bus.closed = 0
	f.connect()
	require.NoError(t, f.link.SendOnce())
	assert.Len(t, f.bus.sentFrames(), 1)
}

func TestSendOncePadding(t *testing.T) {
	for _, pad := range []int{0, 7, 8} {
		f := newLinkFixture(t, pad)
		f.link.SetAutoSend(false)
		f.connect()
		require.NoError(t, f.link.SendOnce())
		frames := f.bus.sentFrames()
		require.Len(t, frames, 1)
		assert.Equal(t, protocol.ControlCommandID, frames[0].ID)
		want := protocol.CommandLength
		if pad > want {
			want = pad
		}
		assert.Len(t, frames[0].Data, want)
		cmd, err := protocol.DecodeCommand(frames[0].Data)
		require.NoError(t, err)
		assert.Equal(t, protocol.DefaultCommand(), cmd)
	}
}

func TestSendOnceFailure(t *testing.T) {
	f := newLinkFixture(t, 0)
	f.connect()
	f.bus.lock.Lock()
	f.bus.sendErr = errors.New("tx overflow")
	f.bus.lock.Unlock()
	err := f.link.SendOnce()
	require.Error(t, err)
	f.expectDiagnostic("tx overflow")
	assert.Equal(t, uint64(1), f.link.Stats().SendErrors)
	assert.Equal(t, Connected, f.link.State())
}

func TestHeartbeatClearsOneShot(t *testing.T) {
	f := newLinkFixture(t, 0)
	cmd := f.link.Command()
	cmd.SystemRestart, cmd.ClearError, cmd.EnableDCDC = true, true, true
	f.link.UpdateCommand(cmd)
	f.connect()

	f.tickUntil(func() bool { return len(f.bus.sentFrames()) >= 2 })
	frames := f.bus.sentFrames()
	assert.Equal(t, protocol.FlagSystemRestart|protocol.FlagClearError, frames[0].Data[0]&(protocol.FlagSystemRestart|protocol.FlagClearError))
	for _, fr := range frames[1:] {
		assert.Zero(t, fr.Data[0]&(protocol.FlagSystemRestart|protocol.FlagClearError))
		assert.NotZero(t, fr.Data[0]&protocol.FlagEnableDCDC)
	}
	cmd = f.link.Command()
	assert.False(t, cmd.SystemRestart)
	assert.False(t, cmd.ClearError)
	assert.True(t, cmd.EnableDCDC)
}

func TestSendOnceClearsOneShot(t *testing.T) {
	f := newLinkFixture(t, 0)
	f.link.SetAutoSend(false)
	f.connect()
	cmd := f.link.Command()
	cmd.ClearError = true
	f.link.UpdateCommand(cmd)
	require.NoError(t, f.link.SendOnce())
	require.NoError(t, f.link.SendOnce())
	frames := f.bus.sentFrames()
	require.Len(t, frames, 2)
	assert.NotZero(t, frames[0].Data[0]&protocol.FlagClearError)
	assert.Zero(t, frames[1].Data[0]&protocol.FlagClearError)
}

func TestOneShotKeepsNewerUpdate(t *testing.T) {
	var cell commandCell
	cell.store(protocol.Command{SystemRestart: true})
	_, req := cell.load()
	cell.store(protocol.Command{SystemRestart: true, RefereePowerLimit: 60})
	assert.False(t, cell.clearOneShot(req))
	cmd, req := cell.load()
	assert.True(t, cmd.SystemRestart)
	assert.True(t, cell.clearOneShot(req))
	cmd, _ = cell.load()
	assert.False(t, cmd.SystemRestart)
	assert.Equal(t, uint16(60), cmd.RefereePowerLimit)
}

func TestAutoSendToggle(t *testing.T) {
	f := newLinkFixture(t, 0)
	f.link.SetAutoSend(false)
	assert.False(t, f.link.AutoSend())
	f.connect()
	for i := 0; i < 5; i++ {
		f.clock.Add(f.link.HeartbeatInterval)
	}
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, f.bus.sentFrames())

	require.NoError(t, f.link.SendOnce())
	assert.Len(t, f.bus.sentFrames(), 1)

	f.link.SetAutoSend(true)
	require.Eventually(t, func() bool { return len(f.bus.sentFrames()) >= 2 }, 5*time.Second, time.Millisecond)
}

func TestReceiveTelemetry(t *testing.T) {
	f := newLinkFixture(t, 0)
	f.link.SetAutoSend(false)
	f.connect()

	f.bus.Push(can.Frame{ID: 0x999, Data: []byte{1, 2, 3}})
	f.bus.Push(can.Frame{ID: protocol.FeedbackNewID, Data: []byte{1, 2, 3, 4, 5}})
	for i := 0; i < 5; i++ {
		f.bus.Push(can.Frame{ID: protocol.FeedbackNewID, Data: []byte{0x80, 0x00, 0x40, 0x00, 0x40, byte(80 + i), 0, 50}})
	}

	for i := 0; i < 5; i++ {
		select {
		case tm := <-f.ch.Telemetry:
			assert.Equal(t, uint16(80+i), tm.ChassisPowerLimit)
			assert.Equal(t, uint8(50), tm.CapEnergy)
			assert.Equal(t, f.clock.Now(), tm.ReceivedAt)
		case <-time.After(5 * time.Second):
			t.Fatal("telemetry not delivered")
		}
	}
	f.expectDiagnostic("malformed frame 0x052")
	stats := f.link.Stats()
	assert.Equal(t, uint64(5), stats.Received)
	assert.Equal(t, uint64(1), stats.Malformed)
	assert.Equal(t, uint64(1), stats.Ignored)
	assert.Empty(t, f.ch.Telemetry)
}

func TestReadErrorBackoff(t *testing.T) {
	f := newLinkFixture(t, 0)
	f.link.SetAutoSend(false)
	atomic.StoreInt32(&f.bus.failReads, 1)
	f.connect()

	f.expectDiagnostic("bus off")
	// no busy loop: the receiver waits for the backoff.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.bus.readErrors))

	atomic.StoreInt32(&f.bus.failReads, 0)
	f.clock.Add(f.link.ReadErrorBackoff)
	f.bus.Push(can.Frame{ID: protocol.FeedbackNewID, Data: []byte{0x80, 0x00, 0x40, 0x00, 0x40, 80, 0, 50}})
	select {
	case <-f.ch.Telemetry:
	case <-time.After(5 * time.Second):
		t.Fatal("receiver did not resume")
	}
	assert.Equal(t, uint64(1), f.link.Stats().ReadErrors)
}

func TestDisconnectDuringBackoff(t *testing.T) {
	f := newLinkFixture(t, 0)
	atomic.StoreInt32(&f.bus.failReads, 1)
	f.connect()
	f.expectDiagnostic("bus off")
	done := make(chan error, 1)
	go func() { done <- f.link.Disconnect() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Disconnect blocked by read backoff")
	}
}

func TestNoTornCommands(t *testing.T) {
	f := newLinkFixture(t, 0)
	f.link.SetAutoSend(false)
	f.connect()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			v := uint16(i % 61)
			f.link.UpdateCommand(protocol.Command{
				EnableDCDC:               v%2 == 0,
				RefereePowerLimit:        v,
				RefereeEnergyBuffer:      v,
				ActiveChargingLimitRatio: uint8(v),
			})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			f.link.SendOnce()
		}
	}()
	wg.Wait()

	for _, fr := range f.bus.sentFrames() {
		cmd, err := protocol.DecodeCommand(fr.Data)
		require.NoError(t, err)
		if cmd == protocol.DefaultCommand() {
			continue
		}
		assert.Equal(t, cmd.RefereePowerLimit, cmd.RefereeEnergyBuffer)
		assert.Equal(t, uint8(cmd.RefereePowerLimit), cmd.ActiveChargingLimitRatio)
		assert.Equal(t, cmd.RefereePowerLimit%2 == 0, cmd.EnableDCDC)
	}
}

func TestNoSendAfterDisconnect(t *testing.T) {
	f := newLinkFixture(t, 0)
	f.connect()
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for n := 0; n < 4; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					f.link.SendOnce()
					f.clock.Add(f.link.HeartbeatInterval)
				}
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, f.link.Disconnect())
	time.Sleep(20 * time.Millisecond)
	close(stop)
	wg.Wait()
	f.bus.lock.Lock()
	defer f.bus.lock.Unlock()
	assert.Zero(t, f.bus.lateSends)
	assert.NotEmpty(t, f.bus.sent)
}

func TestChannelsDrop(t *testing.T) {
	ch := NewChannels(1)
	ch.HandleDiagnostic(Diagnostic{Message: "a"})
	ch.HandleDiagnostic(Diagnostic{Message: "b"})
	ch.StateChanged(Connected)
	ch.HandleTelemetry(context.Background(), protocol.Telemetry{})
	ch.HandleTelemetry(context.Background(), protocol.Telemetry{})
	assert.Equal(t, uint64(2), ch.Dropped())
	assert.Equal(t, "a", (<-ch.Diagnostics).Message)
}

func TestModifyCommand(t *testing.T) {
	l := New()
	cmd, err := l.ModifyCommand(func(c *protocol.Command) error {
		c.RefereePowerLimit = 60
		c.ClearError = true
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint16(60), cmd.RefereePowerLimit)
	assert.Equal(t, cmd, l.Command())

	_, req := l.cmd.load()
	_, err = l.ModifyCommand(func(c *protocol.Command) error {
		c.RefereeEnergyBuffer = 99
		return c.Validate()
	})
	assert.ErrorIs(t, err, protocol.ErrEnergyBufferRange)
	assert.Equal(t, cmd, l.Command())
	assert.True(t, l.cmd.clearOneShot(req))

	// edits after a transmission do not bring the cleared request back
	cmd, err = l.ModifyCommand(func(c *protocol.Command) error {
		c.RefereePowerLimit = 70
		return nil
	})
	require.NoError(t, err)
	assert.False(t, cmd.ClearError)
}

func (f *linkFixture) setGate(g *sendGate) {
	f.bus.lock.Lock()
	f.bus.gate = g
	f.bus.lock.Unlock()
}

func countRestarts(frames []can.Frame) int {
	var n int
	for _, fr := range frames {
		if fr.Data[0]&protocol.FlagSystemRestart != 0 {
			n++
		}
	}
	return n
}

func TestOneShotSentOnceWithConcurrentSendOnce(t *testing.T) {
	f := newLinkFixture(t, 0)
	cmd := f.link.Command()
	cmd.SystemRestart = true
	f.link.UpdateCommand(cmd)
	gate := newSendGate()
	f.setGate(gate)
	f.connect()

	// the heartbeat is on the wire with the restart flag.
	f.tickUntil(func() bool { return len(gate.entered) > 0 })
	f.link.SetAutoSend(false)
	sent := make(chan error, 1)
	go func() { sent <- f.link.SendOnce() }()
	time.Sleep(20 * time.Millisecond)
	close(gate.release)
	require.NoError(t, <-sent)

	frames := f.bus.sentFrames()
	require.GreaterOrEqual(t, len(frames), 2)
	assert.Equal(t, 1, countRestarts(frames))
	assert.False(t, f.link.Command().SystemRestart)
}

func TestOneShotClearedDespiteUnrelatedEdit(t *testing.T) {
	f := newLinkFixture(t, 0)
	f.link.SetAutoSend(false)
	gate := newSendGate()
	f.setGate(gate)
	f.connect()

	_, err := f.link.ModifyCommand(func(c *protocol.Command) error {
		c.SystemRestart = true
		return nil
	})
	require.NoError(t, err)
	sent := make(chan error, 1)
	go func() { sent <- f.link.SendOnce() }()
	<-gate.entered
	cmd, err := f.link.ModifyCommand(func(c *protocol.Command) error {
		c.RefereePowerLimit = 70
		return nil
	})
	require.NoError(t, err)
	assert.True(t, cmd.SystemRestart, "pending request kept until sent")
	close(gate.release)
	require.NoError(t, <-sent)

	require.NoError(t, f.link.SendOnce())
	frames := f.bus.sentFrames()
	require.Len(t, frames, 2)
	assert.Equal(t, 1, countRestarts(frames))
	last, err := protocol.DecodeCommand(frames[1].Data)
	require.NoError(t, err)
	assert.Equal(t, uint16(70), last.RefereePowerLimit)
}

func TestOneShotRequestedAgainWhileSending(t *testing.T) {
	f := newLinkFixture(t, 0)
	f.link.SetAutoSend(false)
	gate := newSendGate()
	f.setGate(gate)
	f.connect()

	restart := func(c *protocol.Command) error {
		c.SystemRestart = true
		return nil
	}
	_, err := f.link.ModifyCommand(restart)
	require.NoError(t, err)
	sent := make(chan error, 1)
	go func() { sent <- f.link.SendOnce() }()
	<-gate.entered
	_, err = f.link.ModifyCommand(restart)
	require.NoError(t, err)
	close(gate.release)
	require.NoError(t, <-sent)

	require.NoError(t, f.link.SendOnce())
	require.NoError(t, f.link.SendOnce())
	assert.Equal(t, 2, countRestarts(f.bus.sentFrames()))
}

func TestNoTornCommandsWithHeartbeat(t *testing.T) {
	f := newLinkFixture(t, 0)
	f.connect()

	stop := make(chan struct{})
	ticking := make(chan struct{})
	go func() {
		defer close(ticking)
		for {
			select {
			case <-stop:
				return
			default:
				f.clock.Add(f.link.HeartbeatInterval)
				time.Sleep(100 * time.Microsecond)
			}
		}
	}()
	for i := 0; i < 500; i++ {
		v := uint16(i % 61)
		f.link.UpdateCommand(protocol.Command{
			EnableDCDC:               v%2 == 0,
			RefereePowerLimit:        v,
			RefereeEnergyBuffer:      v,
			ActiveChargingLimitRatio: uint8(v),
		})
		if i%50 == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	require.Eventually(t, func() bool { return len(f.bus.sentFrames()) > 0 }, 5*time.Second, time.Millisecond)
	close(stop)
	<-ticking
	require.NoError(t, f.link.Disconnect())

	frames := f.bus.sentFrames()
	require.NotEmpty(t, frames)
	for _, fr := range frames {
		cmd, err := protocol.DecodeCommand(fr.Data)
		require.NoError(t, err)
		if cmd == protocol.DefaultCommand() {
			continue
		}
		assert.Equal(t, cmd.RefereePowerLimit, cmd.RefereeEnergyBuffer)
		assert.Equal(t, uint8(cmd.RefereePowerLimit), cmd.ActiveChargingLimitRatio)
		assert.Equal(t, cmd.RefereePowerLimit%2 == 0, cmd.EnableDCDC)
	}
}

func TestCommandCellEditKeepsRequest(t *testing.T) {
	var cell commandCell
	_, err := cell.modify(func(c *protocol.Command) error {
		c.ClearError = true
		return nil
	})
	require.NoError(t, err)
	_, req := cell.load()
	_, err = cell.modify(func(c *protocol.Command) error {
		assert.False(t, c.ClearError)
		c.RefereePowerLimit = 45
		return nil
	})
	require.NoError(t, err)
	assert.True(t, cell.clearOneShot(req))
	cmd, _ := cell.load()
	assert.False(t, cmd.ClearError)
	assert.Equal(t, uint16(45), cmd.RefereePowerLimit)
}

func TestConnectedNotifiedBeforeTelemetry(t *testing.T) {
	f := newLinkFixture(t, 0)
	id, data := protocol.EncodeFeedback(protocol.NewTelemetry(protocol.FormatNew, 0x80, 10, 10, 80, 100))
	f.bus.Push(can.Frame{ID: id, Data: data})

	var lock sync.Mutex
	var events []string
	f.link.Notifier = StateChangedFunc(func(s State) {
		lock.Lock()
		events = append(events, s.String())
		lock.Unlock()
	})
	f.link.Telemetry = HandleTelemetryFunc(func(context.Context, protocol.Telemetry) {
		lock.Lock()
		events = append(events, "telemetry")
		lock.Unlock()
	})
	f.connect()
	require.Eventually(t, func() bool {
		lock.Lock()
		defer lock.Unlock()
		return len(events) >= 3
	}, 5*time.Second, time.Millisecond)
	lock.Lock()
	defer lock.Unlock()
	assert.Equal(t, []string{Connecting.String(), Connected.String(), "telemetry"}, events[:3])
}
