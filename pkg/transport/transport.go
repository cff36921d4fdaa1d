package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tempinbox/tempinbox-go/pkg/connection"
	"github.com/tempinbox/tempinbox-go/pkg/log"
	"github.com/tempinbox/tempinbox-go/pkg/loop"
	"github.com/tempinbox/tempinbox-go/pkg/wire"
)

// DefaultHandshakeTimeout bounds dial plus namespace connect.
const DefaultHandshakeTimeout = 20 * time.Second

// ReasonExhausted is recorded when the reconnect budget runs out.
const ReasonExhausted = "reconnect attempts exhausted"

// Config configures a Transport.
type Config struct {
	// ServerURL is the mail server base URL. An invalid value (see
	// ValidServerURL) disables the transport at construction.
	ServerURL string

	// HandshakeTimeout bounds each connect attempt.
	HandshakeTimeout time.Duration

	Reconnect connection.PolicyConfig
	KeepAlive KeepAliveConfig

	// Capture receives protocol events. Nil disables capture.
	Capture log.Logger
}

// Status is a point-in-time snapshot of the transport.
type Status struct {
	State        connection.State
	Enabled      bool
	Ready        bool
	Attempts     int
	MaxAttempts  int
	NextDelay    time.Duration // pending or next reconnect delay
	ConnectionID string
	LastReason   string
	Endpoint     string
	KeepAlive    KeepAliveStats
}

// Transport is the realtime push channel. It must only be used from its
// loop.
type Transport struct {
	loop     *loop.Loop
	dialer   Dialer
	config   Config
	logger   *slog.Logger
	capture  log.Logger
	endpoint string

	policy    *connection.ReconnectPolicy
	keepAlive *KeepAlive

	state      connection.State
	conn       Conn
	session    uint64
	retry      *loop.Timer
	nextDelay  time.Duration
	lastReason string
	cancelRead context.CancelFunc

	handlers       map[string][]func(json.RawMessage)
	onConnected    []func()
	onDisconnected []func(reason string)
	onStateChange  []func(old, new connection.State)
}

// New creates a Transport. It does not connect until Start is called.
func New(l *loop.Loop, dialer Dialer, config Config, logger *slog.Logger) *Transport {
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	t := &Transport{
		loop:     l,
		dialer:   dialer,
		config:   config,
		logger:   logger,
		capture:  log.OrNoop(config.Capture),
		policy:   connection.NewReconnectPolicyWithConfig(config.Reconnect),
		state:    connection.StateDisconnected,
		handlers: make(map[string][]func(json.RawMessage)),
	}
	t.keepAlive = NewKeepAlive(l, config.KeepAlive, t.sendPing, t.onPingTimeout)
	t.nextDelay = t.policy.Current()

	endpoint, err := EndpointURL(config.ServerURL)
	if err != nil {
		logger.Warn("transport: notifications disabled", slog.String("server_url", config.ServerURL), slog.Any("error", err))
		t.lastReason = err.Error()
		t.state = connection.StateDisabled
		return t
	}
	t.endpoint = endpoint
	return t
}

// Start performs the first connect. It is a no-op unless the transport is
// Disconnected.
func (t *Transport) Start() {
	if t.state != connection.StateDisconnected {
		return
	}
	if err := t.connect(); err != nil {
		t.logger.Debug("transport: start", slog.Any("error", err))
	}
}

// State returns the current connection state.
func (t *Transport) State() connection.State {
	return t.state
}

// IsReady returns true when the session is open and events can be emitted.
func (t *Transport) IsReady() bool {
	return t.state.IsConnected() && t.conn != nil
}

// ConnectionID returns the id of the open connection, or "".
func (t *Transport) ConnectionID() string {
	if t.conn == nil {
		return ""
	}
	return t.conn.ID()
}

// Emit sends an event. Returns connection.ErrNotReady when no session is
// open.
func (t *Transport) Emit(event string, payload any) error {
	if !t.IsReady() {
		return connection.ErrNotReady
	}
	data, err := wire.EncodeEvent(event, payload)
	if err != nil {
		return err
	}
	if err := t.conn.Send(data); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}

	ev := t.event(log.DirectionOut, log.CategoryMessage)
	ev.Message = &log.MessageEvent{Event: event, Payload: payloadText(payload)}
	if event == wire.EventPing {
		ev.Category = log.CategoryControl
		ev.Message = nil
		ev.ControlMsg = &log.ControlMsgEvent{Type: log.ControlMsgPing}
	}
	t.capture.Log(ev)
	return nil
}

// Handle registers fn for an inbound event. Handlers run on the loop in
// registration order.
func (t *Transport) Handle(event string, fn func(data json.RawMessage)) {
	t.handlers[event] = append(t.handlers[event], fn)
}

// OnConnected registers fn to run after every successful connect.
func (t *Transport) OnConnected(fn func()) {
	t.onConnected = append(t.onConnected, fn)
}

// OnDisconnected registers fn to run whenever an open session ends.
func (t *Transport) OnDisconnected(fn func(reason string)) {
	t.onDisconnected = append(t.onDisconnected, fn)
}

// OnStateChange registers fn to run on every state transition.
func (t *Transport) OnStateChange(fn func(old, new connection.State)) {
	t.onStateChange = append(t.onStateChange, fn)
}

// SetSessionState moves between Connected, Authenticated and Subscribed.
// It is used by the session layer once the server acknowledges a binding.
func (t *Transport) SetSessionState(s connection.State) error {
	if !t.IsReady() || !s.IsConnected() {
		return fmt.Errorf("%w: %s -> %s", connection.ErrInvalidState, t.state, s)
	}
	t.setState(s, "")
	return nil
}

// Foreground is called when the client becomes visible again. It sends a
// single liveness ping when a session is open and never reconnects.
func (t *Transport) Foreground() {
	if !t.state.IsConnected() {
		return
	}
	t.keepAlive.PingNow()
}

// Disconnect ends the session for good: the connection is closed, pending
// timers are stopped and the state becomes Disabled. Calling it again is a
// no-op.
func (t *Transport) Disconnect() {
	if t.state == connection.StateDisabled {
		return
	}

	t.retry.Stop()
	t.retry = nil
	t.keepAlive.Stop()
	t.session++

	wasOpen := t.conn != nil
	t.closeConn(wire.ReasonClientDisconnect)
	t.lastReason = wire.ReasonClientDisconnect
	t.setState(connection.StateDisabled, wire.ReasonClientDisconnect)
	if wasOpen {
		t.runDisconnected(wire.ReasonClientDisconnect)
	}
}

// Status returns a snapshot of the transport.
func (t *Transport) Status() Status {
	return Status{
		State:        t.state,
		Enabled:      t.state != connection.StateDisabled,
		Ready:        t.IsReady(),
		Attempts:     t.policy.Attempts(),
		MaxAttempts:  t.policy.MaxAttempts(),
		NextDelay:    t.nextDelay,
		ConnectionID: t.ConnectionID(),
		LastReason:   t.lastReason,
		Endpoint:     t.endpoint,
		KeepAlive:    t.keepAlive.Stats(),
	}
}

// connect starts a dial. Valid only from Disconnected.
func (t *Transport) connect() error {
	if t.state != connection.StateDisconnected && t.state != connection.StateConnecting {
		return fmt.Errorf("%w: connect from %s", connection.ErrInvalidState, t.state)
	}

	t.session++
	session := t.session
	t.setState(connection.StateConnecting, "")

	endpoint := t.endpoint
	timeout := t.config.HandshakeTimeout
	t.loop.Go(func(ctx context.Context) func() {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		conn, err := t.dialer.Dial(ctx, endpoint)
		return func() { t.onDialResult(session, conn, err) }
	})
	return nil
}

func (t *Transport) onDialResult(session uint64, conn Conn, err error) {
	if session != t.session || t.state != connection.StateConnecting {
		if conn != nil {
			t.loop.Go(func(context.Context) func() {
				conn.Close(wire.ReasonClientDisconnect)
				return nil
			})
		}
		return
	}

	if err != nil {
		reason := ReasonOf(err)
		t.lastReason = reason
		t.logger.Info("transport: connect failed", slog.String("reason", reason), slog.Any("error", err))
		t.captureError("connect", err)
		if wire.IsIntentional(reason) {
			t.disable(reason)
			return
		}
		t.setState(connection.StateDisconnected, reason)
		t.scheduleReconnect()
		return
	}

	t.conn = conn
	t.policy.Reset()
	t.nextDelay = t.policy.Current()
	t.lastReason = ""
	t.setState(connection.StateConnected, "")
	t.logger.Info("transport: connected", slog.String("conn_id", conn.ID()), slog.String("endpoint", t.endpoint))

	t.startReader(session, conn)
	t.keepAlive.Start()
	for _, fn := range t.onConnected {
		fn()
	}
}

// scheduleReconnect records a failure and arms the retry timer, or disables
// the transport once the policy is exhausted.
func (t *Transport) scheduleReconnect() {
	if t.state == connection.StateDisabled {
		return
	}

	delay, ok := t.policy.Fail()
	if !ok {
		t.logger.Warn("transport: giving up", slog.Int("attempts", t.policy.Attempts()))
		t.disable(ReasonExhausted)
		return
	}

	t.nextDelay = delay
	t.logger.Debug("transport: reconnect scheduled",
		slog.Int("attempt", t.policy.Attempts()),
		slog.Duration("delay", delay))

	t.retry.Stop()
	t.retry = t.loop.AfterFunc(delay, func() {
		t.retry = nil
		if t.state != connection.StateDisconnected {
			return
		}
		if err := t.connect(); err != nil {
			t.logger.Debug("transport: reconnect", slog.Any("error", err))
		}
	})
}

func (t *Transport) startReader(session uint64, conn Conn) {
	ctx, cancel := context.WithCancel(t.loop.Context())
	t.cancelRead = cancel

	go func() {
		for {
			p, err := conn.Receive(ctx)
			if err != nil {
				t.loop.Post(func() { t.onReadError(session, err) })
				return
			}
			t.loop.Post(func() { t.onPacket(session, p) })
		}
	}()
}

// onPacket dispatches one inbound packet. Stale packets from a previous
// session are dropped.
func (t *Transport) onPacket(session uint64, p *wire.Packet) {
	if session != t.session || !t.state.IsConnected() {
		return
	}
	if p.Type != wire.PacketEvent {
		return
	}

	ev := t.event(log.DirectionIn, log.CategoryMessage)
	ev.Message = &log.MessageEvent{Event: p.Event, Payload: string(p.Data)}
	if p.Event == wire.EventPong {
		ev.Category = log.CategoryControl
		ev.Message = nil
		ev.ControlMsg = &log.ControlMsgEvent{Type: log.ControlMsgPong}
		t.keepAlive.PongReceived()
	}
	t.capture.Log(ev)

	for _, fn := range t.handlers[p.Event] {
		fn(p.Data)
		// A handler may have torn the session down.
		if session != t.session {
			return
		}
	}
}

func (t *Transport) onReadError(session uint64, err error) {
	if session != t.session || !t.state.IsConnected() {
		return
	}
	t.handleDrop(ReasonOf(err), err)
}

func (t *Transport) onPingTimeout() {
	if !t.state.IsConnected() {
		return
	}
	t.handleDrop(wire.ReasonPingTimeout, nil)
}

// handleDrop processes the loss of an open session.
func (t *Transport) handleDrop(reason string, err error) {
	t.session++
	t.keepAlive.Stop()
	t.closeConn(reason)
	t.lastReason = reason

	t.logger.Info("transport: disconnected", slog.String("reason", reason))
	if err != nil {
		t.captureError("read", err)
	}
	t.setState(connection.StateDisconnected, reason)
	t.runDisconnected(reason)

	// A hook may have called Disconnect.
	if t.state != connection.StateDisconnected {
		return
	}
	if wire.IsIntentional(reason) {
		t.disable(reason)
		return
	}
	t.scheduleReconnect()
}

func (t *Transport) disable(reason string) {
	t.retry.Stop()
	t.retry = nil
	t.keepAlive.Stop()
	t.closeConn(reason)
	t.lastReason = reason
	t.logger.Warn("transport: notifications unavailable", slog.String("reason", reason))
	t.setState(connection.StateDisabled, reason)
}

func (t *Transport) closeConn(reason string) {
	if t.cancelRead != nil {
		t.cancelRead()
		t.cancelRead = nil
	}
	if t.conn == nil {
		return
	}
	conn := t.conn
	t.conn = nil
	// The close handshake may block; run it off the loop.
	t.loop.Go(func(context.Context) func() {
		conn.Close(reason)
		return nil
	})
}

func (t *Transport) runDisconnected(reason string) {
	for _, fn := range t.onDisconnected {
		fn(reason)
	}
}

func (t *Transport) setState(s connection.State, reason string) {
	old := t.state
	if old == s {
		return
	}
	t.state = s

	ev := t.event(log.DirectionLocal, log.CategoryState)
	ev.StateChange = &log.StateChangeEvent{
		Entity:   log.StateEntityConnection,
		OldState: old.String(),
		NewState: s.String(),
		Reason:   reason,
	}
	t.capture.Log(ev)

	for _, fn := range t.onStateChange {
		fn(old, s)
	}
}

func (t *Transport) sendPing() error {
	return t.Emit(wire.EventPing, nil)
}

func (t *Transport) captureError(op string, err error) {
	ev := t.event(log.DirectionLocal, log.CategoryError)
	ev.Error = &log.ErrorEventData{Layer: log.LayerTransport, Message: err.Error(), Context: op}
	t.capture.Log(ev)
}

func (t *Transport) event(dir log.Direction, cat log.Category) log.Event {
	return log.Event{
		Timestamp:    t.loop.Clock().Now(),
		ConnectionID: t.ConnectionID(),
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     cat,
	}
}

func payloadText(payload any) string {
	if payload == nil {
		return ""
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return string(data)
}
