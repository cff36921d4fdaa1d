package loop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoop() (*Loop, *ManualClock) {
	clock := NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(clock, nil), clock
}

func TestLoopRunsTasksInOrder(t *testing.T) {
	l, _ := newTestLoop()
	defer l.Close()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		l.Post(func() { order = append(order, i) })
	}
	l.Drain()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestLoopGoPostsContinuation(t *testing.T) {
	l, _ := newTestLoop()
	defer l.Close()

	var result string
	l.Go(func(ctx context.Context) func() {
		value := "fetched"
		return func() { result = value }
	})
	l.Drain()

	assert.Equal(t, "fetched", result)
}

func TestLoopFlushDoesNotWaitForWork(t *testing.T) {
	l, _ := newTestLoop()
	defer l.Close()

	release := make(chan struct{})
	done := make(chan struct{})
	l.Go(func(ctx context.Context) func() {
		<-release
		return func() { close(done) }
	})

	ran := false
	l.Post(func() { ran = true })
	l.Flush()
	assert.True(t, ran)

	close(release)
	l.Drain()
	select {
	case <-done:
	default:
		t.Error("continuation should run once the work finishes")
	}
}

func TestLoopGoRecoversPanic(t *testing.T) {
	l, _ := newTestLoop()
	defer l.Close()

	l.Go(func(ctx context.Context) func() {
		panic("boom")
	})
	l.Drain()

	ran := false
	l.Post(func() { ran = true })
	l.Drain()
	assert.True(t, ran, "loop should keep working after a panicking job")
}

func TestLoopTaskPanicDoesNotStopLoop(t *testing.T) {
	l, _ := newTestLoop()
	defer l.Close()

	ran := false
	l.Post(func() { panic("task") })
	l.Post(func() { ran = true })
	l.Drain()

	assert.True(t, ran)
}

func TestLoopAfterFunc(t *testing.T) {
	t.Run("FiresAfterDelay", func(t *testing.T) {
		l, clock := newTestLoop()
		defer l.Close()

		fired := false
		l.AfterFunc(200*time.Millisecond, func() { fired = true })

		clock.Advance(199 * time.Millisecond)
		l.Drain()
		assert.False(t, fired)

		clock.Advance(time.Millisecond)
		l.Drain()
		assert.True(t, fired)
	})

	t.Run("StopBeforeFire", func(t *testing.T) {
		l, clock := newTestLoop()
		defer l.Close()

		fired := false
		timer := l.AfterFunc(time.Second, func() { fired = true })
		assert.True(t, timer.Stop())
		assert.False(t, timer.Stop(), "second Stop should report false")

		clock.Advance(2 * time.Second)
		l.Drain()
		assert.False(t, fired)
	})

	t.Run("StopAfterClockFiredButBeforeRun", func(t *testing.T) {
		l, clock := newTestLoop()
		defer l.Close()

		fired := false
		timer := l.AfterFunc(time.Second, func() { fired = true })

		// The clock posts the callback, but the loop has not run it yet.
		clock.Advance(time.Second)
		assert.True(t, timer.Stop())
		l.Drain()
		assert.False(t, fired)
	})

	t.Run("NilTimerStop", func(t *testing.T) {
		var timer *Timer
		assert.False(t, timer.Stop())
	})
}

func TestLoopClose(t *testing.T) {
	l, _ := newTestLoop()

	l.Close()
	l.Close()

	assert.True(t, l.Closed())
	assert.False(t, l.Post(func() {}))
	assert.ErrorIs(t, l.Do(context.Background(), func() {}), ErrClosed)
	assert.Error(t, l.Context().Err())
}

func TestLoopRunAndDo(t *testing.T) {
	l := New(RealClock{}, nil)
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	var counter atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Do(ctx, func() { counter.Add(1) }))
	}
	assert.Equal(t, int32(10), counter.Load())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestManualClock(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))

	var fired []string
	clock.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	clock.AfterFunc(time.Second, func() {
		fired = append(fired, "a")
		clock.AfterFunc(500*time.Millisecond, func() { fired = append(fired, "a2") })
	})

	delay, ok := clock.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, time.Second, delay)

	clock.Advance(3 * time.Second)
	assert.Equal(t, []string{"a", "a2", "b"}, fired)
	assert.Equal(t, 0, clock.Pending())
	assert.Equal(t, time.Unix(3, 0), clock.Now())
}
