package framework

import (
	"context"
	"time"
)

// Named is an abstraction for things with a name.
type Named interface {
	Name() string
}

// Runnable defines a generic interface for background runners.
type Runnable interface {
	Run(context.Context) error
}

// RunFunc is the func form of Runnable.
type RunFunc func(context.Context) error

// Run implements Runnable.
func (f RunFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// TickHandler is invoked by a Ticker on every period.
type TickHandler interface {
	Tick(ctx context.Context, now time.Time)
}

// TickFunc is the func form of TickHandler.
type TickFunc func(context.Context, time.Time)

// Tick implements TickHandler.
func (f TickFunc) Tick(ctx context.Context, now time.Time) {
	f(ctx, now)
}
