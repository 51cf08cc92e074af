package framework

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

type namedRunnable struct {
	Runnable
	name string
}

func (r *namedRunnable) Name() string {
	return r.name
}

// NamedRun wraps a Runnable with a name.
func NamedRun(name string, runnable Runnable) Runnable {
	return &namedRunnable{name: name, Runnable: runnable}
}

// ErrForcedExit is returned by Wait when a second stop signal arrived
// before all Runnables stopped.
var ErrForcedExit = errors.New("forced exit")

// Runner runs Runnables side by side and collects their errors.
// Context is canceled by Stop, by a stop signal or when an essential
// Runnable exits.
type Runner struct {
	Context context.Context

	cancel  context.CancelFunc
	started int
	wg      sync.WaitGroup
	lock    sync.Mutex
	errs    AggregatedError
	forced  chan struct{}
}

// NewRunner creates a runner with a default background context.
func NewRunner() *Runner {
	return NewRunnerWith(context.Background())
}

// NewRunnerWith creates a runner derived from ctx.
func NewRunnerWith(ctx context.Context) *Runner {
	r := &Runner{forced: make(chan struct{})}
	r.Context, r.cancel = context.WithCancel(ctx)
	return r
}

// HandleSignals stops the runner on Ctrl-C or SIGTERM. A second signal
// makes Wait give up waiting.
func (r *Runner) HandleSignals() *Runner {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		glog.Info("stop requested")
		r.Stop()
		<-sigCh
		glog.Error("stop requested again, force exit")
		close(r.forced)
	}()
	return r
}

// Stop cancels Context.
func (r *Runner) Stop() {
	r.cancel()
}

// Go starts Runnables. Their exit does not affect the others.
func (r *Runner) Go(runnables ...Runnable) *Runner {
	for _, runnable := range runnables {
		r.start(runnable, false)
	}
	return r
}

// GoEssential starts Runnables the others can not live without: when
// one of them exits, for any reason, the runner stops.
func (r *Runner) GoEssential(runnables ...Runnable) *Runner {
	for _, runnable := range runnables {
		r.start(runnable, true)
	}
	return r
}

func (r *Runner) start(runnable Runnable, essential bool) {
	name := strconv.Itoa(r.started)
	if named, ok := runnable.(Named); ok {
		name = named.Name()
	}
	r.started++
	r.wg.Add(1)
	glog.V(4).Infof("Runner[%s] starting", name)
	go func() {
		defer r.wg.Done()
		err := runSafe(r.Context, runnable, name)
		glog.V(4).Infof("Runner[%s] stopped: %v", name, err)
		if essential {
			r.Stop()
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			r.lock.Lock()
			r.errs.Add(errors.Wrap(err, name))
			r.lock.Unlock()
		}
	}()
}

// runSafe turns a panic inside the Runnable into an error.
func runSafe(ctx context.Context, runnable Runnable, name string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("runner %s panic: %v", name, p)
		}
	}()
	return runnable.Run(ctx)
}

// Wait waits until all Runnables stop and aggregates their errors.
// Cancellation is not an error.
func (r *Runner) Wait() error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-r.forced:
		return ErrForcedExit
	case <-done:
	}
	r.cancel()
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.errs.Aggregate()
}

// RunWithContextCancel runs fn which doesn't accept a context. onCancel
// is called only when ctx is canceled first, and fn is still waited for.
func RunWithContextCancel(ctx context.Context, onCancel func(), fn func() error) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- fn()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	if onCancel != nil {
		onCancel()
	}
	<-errCh
	return ctx.Err()
}

// RunWithContext is RunWithContextCancel without a cancel callback.
func RunWithContext(ctx context.Context, fn func() error) error {
	return RunWithContextCancel(ctx, nil, fn)
}

// RunWithContextCloser closes closer exactly once, on cancel or when fn
// exits, whichever comes first.
func RunWithContextCloser(ctx context.Context, closer io.Closer, fn func() error) error {
	var once sync.Once
	closeOnce := func() {
		once.Do(func() { closer.Close() })
	}
	defer closeOnce()
	return RunWithContextCancel(ctx, closeOnce, fn)
}
