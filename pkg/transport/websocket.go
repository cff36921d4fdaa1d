package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/tempinbox/tempinbox-go/pkg/log"
	"github.com/tempinbox/tempinbox-go/pkg/version"
	"github.com/tempinbox/tempinbox-go/pkg/wire"
)

const (
	// DefaultReadLimit bounds a single inbound frame.
	DefaultReadLimit = 1 << 20

	// sendQueueSize is the buffer of frames waiting for the writer goroutine.
	sendQueueSize = 64

	// writeTimeout bounds a single frame write.
	writeTimeout = 10 * time.Second
)

// ValidServerURL reports whether raw names a usable server. Empty values and
// the literal strings "undefined" and "null" left behind by unset build
// variables are rejected.
func ValidServerURL(raw string) bool {
	switch strings.TrimSpace(raw) {
	case "", "undefined", "null":
		return false
	}
	return true
}

// EndpointURL converts a server base URL into the socket.io WebSocket
// endpoint: http(s) becomes ws(s), an empty path becomes /socket.io/ and
// the Engine.IO query parameters are added.
func EndpointURL(raw string) (string, error) {
	if !ValidServerURL(raw) {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/socket.io/"
	}

	q := u.Query()
	q.Set("EIO", version.EngineIOQuery())
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// wsConn abstracts the WebSocket connection so the handshake and reader can
// be tested without a real server. *websocket.Conn satisfies this interface.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// WebSocketDialer dials socket.io sessions over WebSocket.
type WebSocketDialer struct {
	// Header is sent with the upgrade request.
	Header http.Header

	// HTTPClient is used for the upgrade request. Nil means
	// http.DefaultClient.
	HTTPClient *http.Client

	// ReadLimit bounds a single inbound frame. Zero means DefaultReadLimit.
	ReadLimit int64

	// Capture receives raw frame events.
	Capture log.Logger

	Logger *slog.Logger
}

// Dial connects to endpoint (see EndpointURL) and completes the Engine.IO
// open and the socket.io namespace connect.
func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	header := d.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if header.Get("User-Agent") == "" {
		header.Set("User-Agent", version.UserAgent())
	}
	ws, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{ //nolint:bodyclose // websocket.Dial closes the response body internally
		HTTPHeader: header,
		HTTPClient: d.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("dialing websocket: %w", err)
	}

	limit := d.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	ws.SetReadLimit(limit)

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := newWebSocketConn(ws, log.OrNoop(d.Capture), logger)
	if err := c.handshake(ctx); err != nil {
		c.Close("handshake failed")
		return nil, err
	}
	c.start()
	return c, nil
}

// WebSocketConn is an open socket.io session.
type WebSocketConn struct {
	id      string
	ws      wsConn
	params  wire.OpenParams
	capture log.Logger
	logger  *slog.Logger

	sendCh chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	writeErr  error
	errMu     sync.Mutex
}

func newWebSocketConn(ws wsConn, capture log.Logger, logger *slog.Logger) *WebSocketConn {
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketConn{
		id:      uuid.NewString(),
		ws:      ws,
		capture: capture,
		logger:  logger,
		sendCh:  make(chan []byte, sendQueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ID returns the connection id.
func (c *WebSocketConn) ID() string {
	return c.id
}

// Params returns the Engine.IO open parameters sent by the server.
func (c *WebSocketConn) Params() wire.OpenParams {
	return c.params
}

// handshake reads the engine open packet, sends the namespace connect and
// waits for the server's answer. Engine pings arriving meanwhile are
// answered directly.
func (c *WebSocketConn) handshake(ctx context.Context) error {
	f, err := c.readFrame(ctx)
	if err != nil {
		return fmt.Errorf("%w: reading open packet: %v", ErrHandshake, err)
	}
	if f.Engine != wire.EngineOpen || f.Open == nil {
		return fmt.Errorf("%w: expected open packet, got %s", ErrHandshake, f.Engine)
	}
	c.params = *f.Open

	connect, err := wire.EncodeConnect(nil)
	if err != nil {
		return err
	}
	if err := c.write(ctx, connect); err != nil {
		return fmt.Errorf("%w: sending connect: %v", ErrHandshake, err)
	}

	for {
		f, err := c.readFrame(ctx)
		if err != nil {
			return fmt.Errorf("%w: waiting for connect ack: %v", ErrHandshake, err)
		}
		switch {
		case f.Engine == wire.EnginePing:
			if err := c.write(ctx, wire.EncodeEngine(wire.EnginePong)); err != nil {
				return fmt.Errorf("%w: answering ping: %v", ErrHandshake, err)
			}
		case f.Engine == wire.EngineMessage && f.Packet.Type == wire.PacketConnect:
			return nil
		case f.Engine == wire.EngineMessage && f.Packet.Type == wire.PacketConnectError:
			return &ConnectError{Message: f.Packet.ErrorMessage()}
		case f.Engine == wire.EngineClose:
			return fmt.Errorf("%w: server closed during handshake", ErrHandshake)
		}
	}
}

func (c *WebSocketConn) start() {
	go c.writeLoop()
}

// Send queues a frame for the writer goroutine.
func (c *WebSocketConn) Send(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.sendCh <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Receive returns the next socket.io packet. Engine heartbeats are answered
// here. A read that sees no traffic for the server's ping interval plus ping
// timeout ends the session with wire.ReasonPingTimeout.
func (c *WebSocketConn) Receive(ctx context.Context) (*wire.Packet, error) {
	for {
		rctx, cancel := c.heartbeatContext(ctx)
		f, err := c.readFrame(rctx)
		expired := errors.Is(rctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		cancel()

		if err != nil {
			var fe *frameError
			if errors.As(err, &fe) {
				c.logger.Debug("transport: dropping malformed frame", slog.String("conn_id", c.id), slog.Any("error", fe.err))
				continue
			}
			return nil, c.classify(err, expired)
		}

		switch f.Engine {
		case wire.EnginePing:
			if err := c.Send(wire.EncodeEngine(wire.EnginePong)); err != nil {
				return nil, &DisconnectError{Reason: wire.ReasonTransportError, Err: err}
			}
		case wire.EngineClose:
			return nil, &DisconnectError{Reason: wire.ReasonTransportClose}
		case wire.EngineMessage:
			switch f.Packet.Type {
			case wire.PacketDisconnect:
				return nil, &DisconnectError{Reason: wire.ReasonServerDisconnect}
			case wire.PacketConnectError:
				return nil, &ConnectError{Message: f.Packet.ErrorMessage()}
			default:
				return f.Packet, nil
			}
		}
	}
}

// Close closes the session. Safe to call multiple times.
func (c *WebSocketConn) Close(reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		c.capture.Log(log.Event{
			Timestamp:    time.Now(),
			ConnectionID: c.id,
			Direction:    log.DirectionOut,
			Layer:        log.LayerTransport,
			Category:     log.CategoryControl,
			ControlMsg:   &log.ControlMsgEvent{Type: log.ControlMsgClose, Reason: reason},
		})
		err = c.ws.Close(websocket.StatusNormalClosure, reason)
	})
	return err
}

func (c *WebSocketConn) heartbeatContext(ctx context.Context) (context.Context, context.CancelFunc) {
	window := c.params.HeartbeatInterval() + c.params.HeartbeatTimeout()
	if window <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, window)
}

func (c *WebSocketConn) classify(err error, heartbeatExpired bool) error {
	switch {
	case heartbeatExpired:
		return &DisconnectError{Reason: wire.ReasonPingTimeout, Err: err}
	case c.ctx.Err() != nil:
		return &DisconnectError{Reason: wire.ReasonClientDisconnect, Err: err}
	case c.lastWriteErr() != nil:
		return &DisconnectError{Reason: wire.ReasonTransportError, Err: c.lastWriteErr()}
	case websocket.CloseStatus(err) != -1:
		return &DisconnectError{Reason: wire.ReasonTransportClose, Err: err}
	default:
		return &DisconnectError{Reason: wire.ReasonTransportError, Err: err}
	}
}

// frameError marks a frame that arrived intact but could not be decoded.
type frameError struct {
	err error
}

func (e *frameError) Error() string { return e.err.Error() }

func (c *WebSocketConn) readFrame(ctx context.Context) (wire.Frame, error) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return wire.Frame{}, err
		}
		if typ != websocket.MessageText {
			continue
		}

		c.capture.Log(log.Event{
			Timestamp:    time.Now(),
			ConnectionID: c.id,
			Direction:    log.DirectionIn,
			Layer:        log.LayerTransport,
			Category:     log.CategoryMessage,
			Frame:        log.NewFrameEvent(data),
		})

		f, err := wire.DecodeFrame(data)
		if err != nil {
			return wire.Frame{}, &frameError{err: err}
		}
		return f, nil
	}
}

func (c *WebSocketConn) write(ctx context.Context, data []byte) error {
	c.capture.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Direction:    log.DirectionOut,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Frame:        log.NewFrameEvent(data),
	})
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *WebSocketConn) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.sendCh:
			ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := c.write(ctx, data)
			cancel()
			if err != nil {
				if c.ctx.Err() != nil {
					return
				}
				c.errMu.Lock()
				c.writeErr = err
				c.errMu.Unlock()
				c.logger.Debug("transport: write failed", slog.String("conn_id", c.id), slog.Any("error", err))
				// Unblocks the reader, which reports the session as lost.
				c.ws.Close(websocket.StatusInternalError, wire.ReasonTransportError)
				return
			}
		}
	}
}

func (c *WebSocketConn) lastWriteErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.writeErr
}
