package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tempinbox/tempinbox-go/pkg/connection"
	"github.com/tempinbox/tempinbox-go/pkg/loop"
	"github.com/tempinbox/tempinbox-go/pkg/wire"
)

type fakeConn struct {
	id string

	mu          sync.Mutex
	sent        []string
	closeReason string
	closed      chan struct{}
	closeOnce   sync.Once
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, closed: make(chan struct{})}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, string(data))
	return nil
}

func (c *fakeConn) Receive(ctx context.Context) (*wire.Packet, error) {
	select {
	case <-ctx.Done():
		return nil, &DisconnectError{Reason: wire.ReasonClientDisconnect, Err: ctx.Err()}
	case <-c.closed:
		return nil, &DisconnectError{Reason: wire.ReasonTransportClose}
	}
}

func (c *fakeConn) Close(reason string) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeReason = reason
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

func (c *fakeConn) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func (c *fakeConn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeDialer returns the scripted errors in order; a nil entry (or running
// past the script when failAlways is false) yields a new fakeConn.
type fakeDialer struct {
	mu         sync.Mutex
	script     []error
	failAlways error
	dials      int
	conns      []*fakeConn
	gate       chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	if d.gate != nil {
		<-d.gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if d.failAlways != nil {
		return nil, d.failAlways
	}
	if len(d.script) > 0 {
		err := d.script[0]
		d.script = d.script[1:]
		if err != nil {
			return nil, err
		}
	}
	c := newFakeConn(fmt.Sprintf("conn-%d", d.dials))
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) Last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

type harness struct {
	loop      *loop.Loop
	clock     *loop.ManualClock
	dialer    *fakeDialer
	transport *Transport
}

func newHarness(t *testing.T, dialer *fakeDialer) *harness {
	t.Helper()
	return newHarnessWithConfig(t, dialer, Config{ServerURL: "https://mail.example.com"})
}

func newHarnessWithConfig(t *testing.T, dialer *fakeDialer, config Config) *harness {
	t.Helper()
	clock := loop.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	l := loop.New(clock, nil)
	t.Cleanup(l.Close)

	tr := New(l, dialer, config, nil)
	return &harness{loop: l, clock: clock, dialer: dialer, transport: tr}
}

// advance moves the clock to the next pending timer and drains the loop.
func (h *harness) advance(t *testing.T) time.Duration {
	t.Helper()
	d, ok := h.clock.NextDeadline()
	require.True(t, ok, "no timer pending")
	h.clock.Advance(d)
	h.loop.Drain()
	return d
}

var errRefused = errors.New("connection refused")

func TestTransportConnects(t *testing.T) {
	h := newHarness(t, &fakeDialer{})

	connected := 0
	h.transport.OnConnected(func() { connected++ })

	h.transport.Start()
	h.loop.Drain()

	assert.Equal(t, connection.StateConnected, h.transport.State())
	assert.True(t, h.transport.IsReady())
	assert.Equal(t, 1, connected)
	assert.Equal(t, "conn-1", h.transport.ConnectionID())

	status := h.transport.Status()
	assert.True(t, status.Enabled)
	assert.Equal(t, 0, status.Attempts)
	assert.Equal(t, "wss://mail.example.com/socket.io/?EIO=4&transport=websocket", status.Endpoint)

	// Start is a no-op once connected.
	h.transport.Start()
	h.loop.Drain()
	assert.Equal(t, 1, h.dialer.Dials())
}

func TestTransportBackoffFailFailSuccess(t *testing.T) {
	h := newHarness(t, &fakeDialer{script: []error{errRefused, errRefused, nil}})

	h.transport.Start()
	h.loop.Drain()
	assert.Equal(t, connection.StateDisconnected, h.transport.State())

	var observed []time.Duration
	observed = append(observed, h.advance(t))
	assert.Equal(t, connection.StateDisconnected, h.transport.State())
	observed = append(observed, h.advance(t))

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, observed)
	assert.Equal(t, connection.StateConnected, h.transport.State())
	assert.Equal(t, 0, h.transport.Status().Attempts)
	assert.Equal(t, time.Second, h.transport.Status().NextDelay, "delay resets to baseline after success")

	// A later drop starts again from the baseline.
	h.transport.onReadError(h.transport.session, &DisconnectError{Reason: wire.ReasonTransportClose})
	h.loop.Drain()
	d, ok := h.clock.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, time.Second, d)
}

func TestTransportDisabledAfterMaxAttemptsPlusOne(t *testing.T) {
	h := newHarness(t, &fakeDialer{failAlways: errRefused})

	var transitions []connection.State
	h.transport.OnStateChange(func(_, s connection.State) { transitions = append(transitions, s) })

	h.transport.Start()
	h.loop.Drain()

	var delays []time.Duration
	for i := 0; i < connection.DefaultMaxAttempts; i++ {
		delays = append(delays, h.advance(t))
	}

	assert.Equal(t, connection.DefaultMaxAttempts+1, h.dialer.Dials())
	assert.Equal(t, connection.StateDisabled, h.transport.State())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}, delays)
	assert.Equal(t, 0, h.clock.Pending(), "no further attempt scheduled")
	assert.Equal(t, ReasonExhausted, h.transport.Status().LastReason)

	attempts := h.transport.Status().Attempts
	h.clock.Advance(time.Hour)
	h.loop.Drain()
	h.transport.Start()
	h.loop.Drain()
	assert.Equal(t, attempts, h.transport.Status().Attempts, "attempt counter stops increasing")
	assert.Equal(t, connection.DefaultMaxAttempts+1, h.dialer.Dials())
	assert.Equal(t, connection.StateDisabled, transitions[len(transitions)-1])
}

func TestTransportIntentionalConnectErrorDisables(t *testing.T) {
	h := newHarness(t, &fakeDialer{failAlways: &ConnectError{Message: "websocket error"}})

	h.transport.Start()
	h.loop.Drain()

	assert.Equal(t, connection.StateDisabled, h.transport.State())
	assert.Equal(t, 0, h.clock.Pending())
	assert.Equal(t, 1, h.dialer.Dials())
}

func TestTransportDrop(t *testing.T) {
	t.Run("TransientReconnects", func(t *testing.T) {
		h := newHarness(t, &fakeDialer{})
		var reasons []string
		h.transport.OnDisconnected(func(reason string) { reasons = append(reasons, reason) })

		h.transport.Start()
		h.loop.Drain()
		first := h.dialer.Last()

		h.transport.onReadError(h.transport.session, &DisconnectError{Reason: wire.ReasonTransportError})
		h.loop.Drain()

		assert.Equal(t, connection.StateDisconnected, h.transport.State())
		assert.Equal(t, []string{wire.ReasonTransportError}, reasons)
		assert.True(t, first.IsClosed())
		assert.False(t, h.transport.IsReady())

		assert.Equal(t, time.Second, h.advance(t))
		assert.Equal(t, connection.StateConnected, h.transport.State())
		assert.Equal(t, 2, h.dialer.Dials())
	})

	t.Run("ServerDisconnectDisables", func(t *testing.T) {
		h := newHarness(t, &fakeDialer{})
		h.transport.Start()
		h.loop.Drain()

		h.transport.onReadError(h.transport.session, &DisconnectError{Reason: wire.ReasonServerDisconnect})
		h.loop.Drain()

		assert.Equal(t, connection.StateDisabled, h.transport.State())
		assert.Equal(t, 0, h.clock.Pending())
	})

	t.Run("StaleSessionIgnored", func(t *testing.T) {
		h := newHarness(t, &fakeDialer{})
		h.transport.Start()
		h.loop.Drain()

		h.transport.onReadError(h.transport.session-1, &DisconnectError{Reason: wire.ReasonTransportError})
		h.loop.Drain()
		assert.Equal(t, connection.StateConnected, h.transport.State())
	})
}

func TestTransportDisconnectIdempotent(t *testing.T) {
	h := newHarness(t, &fakeDialer{})
	disconnects := 0
	h.transport.OnDisconnected(func(string) { disconnects++ })

	h.transport.Start()
	h.loop.Drain()
	conn := h.dialer.Last()

	h.transport.Disconnect()
	h.loop.Drain()
	assert.Equal(t, connection.StateDisabled, h.transport.State())

	h.transport.Disconnect()
	h.loop.Drain()
	assert.Equal(t, connection.StateDisabled, h.transport.State())

	assert.Equal(t, 1, disconnects)
	assert.True(t, conn.IsClosed())
	assert.Equal(t, wire.ReasonClientDisconnect, conn.closeReason)
	assert.Equal(t, 0, h.clock.Pending(), "keep-alive and retry timers stopped")
}

func TestTransportDisconnectCancelsPendingRetry(t *testing.T) {
	h := newHarness(t, &fakeDialer{failAlways: errRefused})

	h.transport.Start()
	h.loop.Drain()
	require.Equal(t, 1, h.clock.Pending())

	h.transport.Disconnect()
	h.clock.Advance(time.Minute)
	h.loop.Drain()

	assert.Equal(t, 1, h.dialer.Dials())
	assert.Equal(t, connection.StateDisabled, h.transport.State())
}

func TestTransportDisconnectDuringDial(t *testing.T) {
	dialer := &fakeDialer{gate: make(chan struct{})}
	h := newHarness(t, dialer)

	h.transport.Start()
	h.transport.Disconnect()
	close(dialer.gate)
	h.loop.Drain()

	assert.Equal(t, connection.StateDisabled, h.transport.State())
	require.NotNil(t, dialer.Last())
	assert.True(t, dialer.Last().IsClosed(), "late connection is closed")
}

func TestTransportEmit(t *testing.T) {
	h := newHarness(t, &fakeDialer{})

	err := h.transport.Emit(wire.EventAuthenticate, wire.Identity{UserID: "u1"})
	assert.ErrorIs(t, err, connection.ErrNotReady)

	h.transport.Start()
	h.loop.Drain()

	require.NoError(t, h.transport.Emit(wire.EventAuthenticate, wire.Identity{UserID: "u1"}))
	require.NoError(t, h.transport.Emit(wire.EventJoinEmailRoom, "box@example.com"))

	assert.Equal(t, []string{
		`42["authenticate",{"userId":"u1"}]`,
		`42["join_email_room","box@example.com"]`,
	}, h.dialer.Last().Sent())
}

func TestTransportHandle(t *testing.T) {
	h := newHarness(t, &fakeDialer{})

	var got []string
	h.transport.Handle(wire.EventNewEmail, func(data json.RawMessage) { got = append(got, "a:"+string(data)) })
	h.transport.Handle(wire.EventNewEmail, func(data json.RawMessage) { got = append(got, "b:"+string(data)) })

	h.transport.Start()
	h.loop.Drain()

	session := h.transport.session
	h.transport.onPacket(session, &wire.Packet{Type: wire.PacketEvent, Event: wire.EventNewEmail, Data: json.RawMessage(`{"uid":"1"}`)})
	h.transport.onPacket(session, &wire.Packet{Type: wire.PacketEvent, Event: "other"})
	h.transport.onPacket(session-1, &wire.Packet{Type: wire.PacketEvent, Event: wire.EventNewEmail})

	assert.Equal(t, []string{`a:{"uid":"1"}`, `b:{"uid":"1"}`}, got)
}

func TestTransportSetSessionState(t *testing.T) {
	h := newHarness(t, &fakeDialer{})

	assert.ErrorIs(t, h.transport.SetSessionState(connection.StateAuthenticated), connection.ErrInvalidState)

	h.transport.Start()
	h.loop.Drain()

	require.NoError(t, h.transport.SetSessionState(connection.StateAuthenticated))
	require.NoError(t, h.transport.SetSessionState(connection.StateSubscribed))
	assert.Equal(t, connection.StateSubscribed, h.transport.State())
	assert.True(t, h.transport.IsReady())

	assert.ErrorIs(t, h.transport.SetSessionState(connection.StateDisabled), connection.ErrInvalidState)
}

func TestTransportKeepAlive(t *testing.T) {
	t.Run("PingsWhileConnected", func(t *testing.T) {
		h := newHarness(t, &fakeDialer{})
		h.transport.Start()
		h.loop.Drain()

		assert.Equal(t, DefaultPingInterval, h.advance(t))
		assert.Equal(t, []string{`42["ping"]`}, h.dialer.Last().Sent())

		h.transport.onPacket(h.transport.session, &wire.Packet{Type: wire.PacketEvent, Event: wire.EventPong})
		assert.Equal(t, 0, h.transport.Status().KeepAlive.MissedPongs)

		for i := 0; i < 5; i++ {
			h.advance(t)
			h.transport.onPacket(h.transport.session, &wire.Packet{Type: wire.PacketEvent, Event: wire.EventPong})
		}
		assert.Equal(t, connection.StateConnected, h.transport.State())
		assert.Equal(t, 6, h.transport.Status().KeepAlive.Pings)
	})

	t.Run("MissedPongsKeepSessionByDefault", func(t *testing.T) {
		h := newHarness(t, &fakeDialer{})
		var reasons []string
		h.transport.OnDisconnected(func(reason string) { reasons = append(reasons, reason) })

		h.transport.Start()
		h.loop.Drain()

		for i := 0; i < 10; i++ {
			h.advance(t)
		}

		assert.Empty(t, reasons)
		assert.Equal(t, connection.StateConnected, h.transport.State())
		assert.False(t, h.dialer.Last().IsClosed())
		assert.Equal(t, 9, h.transport.Status().KeepAlive.MissedPongs)
	})

	t.Run("MissedPongsDropWithPingTimeout", func(t *testing.T) {
		h := newHarnessWithConfig(t, &fakeDialer{}, Config{
			ServerURL: "https://mail.example.com",
			KeepAlive: KeepAliveConfig{MaxMissedPongs: 3},
		})
		var reasons []string
		h.transport.OnDisconnected(func(reason string) { reasons = append(reasons, reason) })

		h.transport.Start()
		h.loop.Drain()

		for i := 0; i < 3+1; i++ {
			h.advance(t)
		}

		assert.Equal(t, []string{wire.ReasonPingTimeout}, reasons)
		assert.Equal(t, connection.StateDisconnected, h.transport.State())
		d, ok := h.clock.NextDeadline()
		require.True(t, ok, "ping timeout is transient and schedules a reconnect")
		assert.Equal(t, time.Second, d)
	})

	t.Run("ForegroundSendsOnePing", func(t *testing.T) {
		h := newHarness(t, &fakeDialer{})

		h.transport.Foreground()
		h.loop.Drain()
		assert.Equal(t, 0, h.dialer.Dials(), "foreground never connects")

		h.transport.Start()
		h.loop.Drain()

		h.transport.Foreground()
		assert.Equal(t, []string{`42["ping"]`}, h.dialer.Last().Sent())

		// The first ping is still unanswered; the next foreground pings anyway.
		h.transport.Foreground()
		assert.Equal(t, []string{`42["ping"]`, `42["ping"]`}, h.dialer.Last().Sent())
		assert.Equal(t, connection.StateConnected, h.transport.State())
	})
}

func TestTransportInvalidServerURL(t *testing.T) {
	for _, raw := range []string{"", "undefined", "null", "  "} {
		t.Run(fmt.Sprintf("%q", raw), func(t *testing.T) {
			dialer := &fakeDialer{}
			l := loop.New(loop.NewManualClock(time.Unix(0, 0)), nil)
			defer l.Close()

			tr := New(l, dialer, Config{ServerURL: raw}, nil)
			tr.Start()
			l.Drain()

			assert.Equal(t, connection.StateDisabled, tr.State())
			assert.False(t, tr.Status().Enabled)
			assert.Equal(t, 0, dialer.Dials())
			tr.Disconnect()
		})
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
