package framework

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultTickInterval is used when Ticker.Interval is not set.
const DefaultTickInterval = 100 * time.Millisecond

// Ticker invokes a TickHandler periodically until the context is done.
type Ticker struct {
	Interval time.Duration
	Clock    clock.Clock
	Handler  TickHandler

	wakeUpCh chan struct{}
}

// NewTicker creates a Ticker using the wall clock.
func NewTicker(interval time.Duration, handler TickHandler) *Ticker {
	return &Ticker{
		Interval: interval,
		Clock:    clock.New(),
		Handler:  handler,
		wakeUpCh: make(chan struct{}, 1),
	}
}

// WithClock replaces the clock, mostly for tests.
func (t *Ticker) WithClock(clk clock.Clock) *Ticker {
	t.Clock = clk
	return t
}

// Run implements Runnable.
func (t *Ticker) Run(ctx context.Context) error {
	if t.wakeUpCh == nil {
		t.wakeUpCh = make(chan struct{}, 1)
	}
	clk := t.Clock
	if clk == nil {
		clk = clock.New()
	}
	interval := t.Interval
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := clk.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			t.Handler.Tick(ctx, now)
		case <-t.wakeUpCh:
			t.Handler.Tick(ctx, clk.Now())
		}
	}
}

// TriggerNext schedules an extra tick immediately, without
// resetting the period. It never blocks.
func (t *Ticker) TriggerNext() {
	select {
	case t.wakeUpCh <- struct{}{}:
	default:
	}
}
