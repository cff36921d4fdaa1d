package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned when work is submitted to a closed loop.
var ErrClosed = errors.New("loop closed")

// Loop executes posted tasks one at a time.
type Loop struct {
	clock  Clock
	logger *slog.Logger

	mu       sync.Mutex
	queue    []func()
	inflight int
	closed   bool
	wake     chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a loop using the given clock. A nil clock means RealClock and
// a nil logger means slog.Default().
func New(clock Clock, logger *slog.Logger) *Loop {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{
		clock:  clock,
		logger: logger,
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Clock returns the loop's clock.
func (l *Loop) Clock() Clock {
	return l.clock
}

// Context is cancelled when the loop is closed. Work started with Go
// receives it.
func (l *Loop) Context() context.Context {
	return l.ctx
}

// Post queues fn for execution on the loop. Returns false if the loop is
// closed. Safe to call from any goroutine.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	l.signal()
	return true
}

// Go runs work in a new goroutine. The continuation it returns (if non-nil)
// is posted onto the loop. Continuations of work finishing after Close are
// dropped.
func (l *Loop) Go(work func(ctx context.Context) func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.inflight++
	l.mu.Unlock()

	go func() {
		var cont func()
		defer func() {
			if r := recover(); r != nil {
				l.logger.Error("loop: background work panicked", slog.Any("panic", r))
				cont = nil
			}
			l.mu.Lock()
			l.inflight--
			if cont != nil && !l.closed {
				l.queue = append(l.queue, cont)
			}
			l.mu.Unlock()
			l.signal()
		}()
		cont = work(l.ctx)
	}()
}

// AfterFunc schedules fn to run on the loop after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	t := &Timer{}
	t.ct = l.clock.AfterFunc(d, func() {
		l.Post(func() {
			if t.stopped.Load() {
				return
			}
			t.fired.Store(true)
			fn()
		})
	})
	return t
}

// Run executes tasks until ctx is cancelled or the loop is closed.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.runPending()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.ctx.Done():
			return ErrClosed
		case <-l.wake:
		}
	}
}

// Drain runs queued tasks on the calling goroutine until the queue is empty
// and no background work is in flight. It must not be used concurrently
// with Run. Intended for tests.
func (l *Loop) Drain() {
	for {
		if l.runPending() > 0 {
			continue
		}

		l.mu.Lock()
		queued := len(l.queue) > 0
		idle := (l.inflight == 0 && !queued) || l.closed
		l.mu.Unlock()
		if idle {
			return
		}
		if !queued {
			<-l.wake
		}
	}
}

// Flush runs queued tasks on the calling goroutine until the queue is empty.
// Unlike Drain it does not wait for background work. Intended for tests.
func (l *Loop) Flush() {
	for l.runPending() > 0 {
		continue
	}
}

// Do posts fn and waits until it has run.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.ctx.Done():
		return ErrClosed
	}
}

// Close stops the loop. Queued tasks are discarded and the context passed
// to background work is cancelled. Safe to call multiple times.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.queue = nil
	l.mu.Unlock()

	l.cancel()
	l.signal()
}

// Closed reports whether Close has been called.
func (l *Loop) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Loop) runPending() int {
	l.mu.Lock()
	tasks := l.queue
	l.queue = nil
	l.mu.Unlock()

	for _, task := range tasks {
		l.runTask(task)
	}
	return len(tasks)
}

func (l *Loop) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop: task panicked", slog.String("panic", fmt.Sprint(r)))
		}
	}()
	task()
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Timer is a one-shot timer whose callback runs on the loop.
type Timer struct {
	ct      ClockTimer
	stopped atomic.Bool
	fired   atomic.Bool
}

// Stop cancels the timer. Returns true if this call prevented the callback
// from running. Safe to call on a nil Timer and multiple times.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	if !t.stopped.CompareAndSwap(false, true) {
		return false
	}
	if t.ct != nil {
		t.ct.Stop()
	}
	return !t.fired.Load()
}
