package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tempinbox/tempinbox-go/pkg/connection"
	"github.com/tempinbox/tempinbox-go/pkg/dispatch"
	"github.com/tempinbox/tempinbox-go/pkg/inbox"
	"github.com/tempinbox/tempinbox-go/pkg/log"
	"github.com/tempinbox/tempinbox-go/pkg/loop"
	"github.com/tempinbox/tempinbox-go/pkg/metrics"
	"github.com/tempinbox/tempinbox-go/pkg/notify"
	"github.com/tempinbox/tempinbox-go/pkg/persistence"
	"github.com/tempinbox/tempinbox-go/pkg/session"
	"github.com/tempinbox/tempinbox-go/pkg/subscription"
	"github.com/tempinbox/tempinbox-go/pkg/transport"
	"github.com/tempinbox/tempinbox-go/pkg/wire"
)

// Client errors.
var (
	ErrAlreadyStarted = errors.New("client already started")
	ErrClosed         = errors.New("client closed")
	ErrMissingFetcher = errors.New("client requires a fetcher")
)

// queryTimeout bounds synchronous reads of loop state.
const queryTimeout = 2 * time.Second

// Config holds the component settings.
type Config struct {
	Transport transport.Config
	Binding   session.Config
	Inbox     inbox.Config

	// DismissAfter is the OS notification display time. Zero means
	// notify.DefaultDismissAfter.
	DismissAfter time.Duration

	// Capture receives protocol events from every layer.
	Capture log.Logger
}

// Deps are the collaborators a Client drives.
type Deps struct {
	// Fetcher loads inbox pages. Required.
	Fetcher inbox.Fetcher

	// Platform shows OS notifications. Nil disables them.
	Platform notify.Platform

	// Sink receives every view change. Nil discards them.
	Sink inbox.Sink

	// Dialer opens realtime sessions. Nil means a WebSocketDialer.
	Dialer transport.Dialer

	// Accounts names the current account. Nil means SetAccount is the
	// only source.
	Accounts *persistence.AccountStore

	// OnFocus runs on the loop when an OS notification is clicked.
	OnFocus func()

	Clock  loop.Clock
	Logger *slog.Logger
}

type clientState uint8

const (
	stateIdle clientState = iota
	stateRunning
	stateClosed
)

// Status is a point-in-time snapshot of the realtime side.
type Status struct {
	State        string `json:"state"`
	Connected    bool   `json:"isConnected"`
	Enabled      bool   `json:"isEnabled"`
	Attempts     int    `json:"attempts"`
	MaxAttempts  int    `json:"maxAttempts"`
	ConnectionID string `json:"connectionId,omitempty"`
	LastReason   string `json:"lastReason,omitempty"`
	UserID       string `json:"userId,omitempty"`
	Mailbox      string `json:"mailbox,omitempty"`
	Bound        bool   `json:"bound"`
	Observers    int    `json:"observers"`
}

// Client is the notification core of one mailbox view.
type Client struct {
	logger *slog.Logger
	deps   Deps

	loop       *loop.Loop
	transport  *transport.Transport
	auth       *session.AuthSession
	room       *subscription.RoomSubscription
	binder     *session.Binder
	dispatcher *dispatch.Dispatcher
	presenter  *notify.Presenter
	inbox      *inbox.Coordinator
	metrics    *metrics.Metrics

	mu      sync.Mutex
	state   clientState
	cancel  context.CancelFunc
	done    chan struct{}
	watcher *persistence.AccountWatcher

	closeOnce sync.Once
}

// New assembles a Client. Nothing runs until Start.
func New(config Config, deps Deps) (*Client, error) {
	if deps.Fetcher == nil {
		return nil, ErrMissingFetcher
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := deps.Sink
	if sink == nil {
		sink = inbox.SinkFunc(func(inbox.ViewState) {})
	}
	dialer := deps.Dialer
	if dialer == nil {
		dialer = &transport.WebSocketDialer{Capture: config.Capture, Logger: logger}
	}
	capture := log.OrNoop(config.Capture)
	config.Transport.Capture = capture

	c := &Client{
		logger: logger,
		deps:   deps,
		loop:   loop.New(deps.Clock, logger),
		done:   make(chan struct{}),
	}

	c.transport = transport.New(c.loop, dialer, config.Transport, logger)
	c.auth = session.NewAuthSession(c.transport, logger, capture)
	c.room = subscription.NewRoomSubscription(c.transport, c.auth, logger, capture)
	c.binder = session.NewBinder(c.loop, c.transport, c.auth, c.room, config.Binding, logger)
	c.inbox = inbox.NewCoordinator(c.loop, deps.Fetcher, sink, config.Inbox, logger, capture)

	var presenter dispatch.Presenter
	if deps.Platform != nil {
		c.presenter = notify.NewPresenter(c.loop, deps.Platform, logger, capture)
		if config.DismissAfter > 0 {
			c.presenter.DismissAfter = config.DismissAfter
		}
		c.presenter.Focus = c.focus
		presenter = c.presenter
	}
	c.dispatcher = dispatch.New(presenter, logger, capture)
	c.dispatcher.SetConnectionID(c.transport.ConnectionID)
	if err := c.dispatcher.Subscribe(c.inbox); err != nil {
		return nil, err
	}

	c.metrics = metrics.New(c.snapshot)
	c.wire()
	return c, nil
}

func (c *Client) wire() {
	c.transport.Handle(wire.EventNewEmail, c.dispatcher.HandlePayload)
	c.transport.OnStateChange(func(old, new connection.State) {
		c.metrics.ObserveStateChange(old, new)
		if new == connection.StateDisabled {
			c.inbox.SetNotificationsAvailable(false)
		}
	})
	c.binder.OnBound(func(b session.Binding) {
		c.inbox.SetNotificationsAvailable(true)
	})
	c.binder.OnGiveUp(func(err error) {
		c.metrics.ObserveBindFailure(err)
		c.inbox.SetNotificationsAvailable(false)
	})
	if c.presenter != nil {
		c.presenter.OnOutcome(c.metrics.ObserveOutcome)
	}
}

// Start runs the loop, connects the transport and binds the persisted
// account. The watcher re-binds whenever the account file changes. When
// ctx is done the client closes as if Close had been called.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case stateRunning:
		return ErrAlreadyStarted
	case stateClosed:
		return ErrClosed
	}

	// The loop outlives ctx so Close can still run teardown on it.
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.state = stateRunning
	go func() {
		defer close(c.done)
		_ = c.loop.Run(runCtx)
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-runCtx.Done():
		}
	}()
	c.loop.Post(func() {
		// A transport disabled at construction never reports a change.
		if c.transport.State() == connection.StateDisabled {
			c.inbox.SetNotificationsAvailable(false)
		}
		c.transport.Start()
	})

	if c.deps.Accounts == nil {
		return nil
	}

	// Watch before reading so a write landing in between is still seen.
	w, err := persistence.NewAccountWatcher(c.deps.Accounts, c.logger)
	if err != nil {
		c.logger.Warn("client: account changes will not be followed", slog.Any("error", err))
	}
	acc, err := c.deps.Accounts.Current()
	if err != nil {
		c.logger.Warn("client: reading account file", slog.Any("error", err))
	}
	if acc != nil {
		c.SetAccount(acc)
	}
	if w != nil {
		c.watcher = w
		go func() {
			if err := w.Run(runCtx, acc, c.SetAccount); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Warn("client: account watcher stopped", slog.Any("error", err))
			}
		}()
	}
	return nil
}

// SetAccount switches the mailbox. Nil clears it: the topic is left, the
// identity forgotten and the view emptied.
func (c *Client) SetAccount(acc *persistence.StoredAccount) {
	if acc == nil {
		c.loop.Post(func() {
			c.binder.Unbind()
			c.inbox.SetAccount(inbox.Account{})
		})
		return
	}
	a := *acc
	c.loop.Post(func() {
		c.inbox.SetAccount(inbox.Account{ID: a.ID, Address: a.Email})
		c.binder.Bind(session.Binding{
			Identity: wire.Identity{UserID: a.ID, Token: a.Token},
			Topic:    a.Email,
		})
	})
}

// Navigate shows page.
func (c *Client) Navigate(page int) {
	c.loop.Post(func() { c.inbox.Navigate(page) })
}

// Next shows the next page.
func (c *Client) Next() {
	c.loop.Post(c.inbox.Next)
}

// Prev shows the previous page.
func (c *Client) Prev() {
	c.loop.Post(c.inbox.Prev)
}

// Refresh reloads the current page.
func (c *Client) Refresh() {
	c.loop.Post(c.inbox.Refresh)
}

// Foreground tells the transport the client is visible again.
func (c *Client) Foreground() {
	c.loop.Post(c.transport.Foreground)
}

// Subscribe adds an observer for dispatched notifications.
func (c *Client) Subscribe(o dispatch.Observer) error {
	var err error
	if derr := c.do(func() { err = c.dispatcher.Subscribe(o) }); derr != nil {
		return derr
	}
	return err
}

// Unsubscribe removes an observer.
func (c *Client) Unsubscribe(o dispatch.Observer) {
	c.loop.Post(func() { c.dispatcher.Unsubscribe(o) })
}

// View returns the current inbox view.
func (c *Client) View() (inbox.ViewState, error) {
	var v inbox.ViewState
	err := c.do(func() { v = c.inbox.View() })
	return v, err
}

// Status returns the realtime status.
func (c *Client) Status() (Status, error) {
	var s Status
	err := c.do(func() {
		ts := c.transport.Status()
		s = Status{
			State:        ts.State.String(),
			Connected:    ts.State.IsConnected(),
			Enabled:      ts.Enabled,
			Attempts:     ts.Attempts,
			MaxAttempts:  ts.MaxAttempts,
			ConnectionID: ts.ConnectionID,
			LastReason:   ts.LastReason,
			Bound:        c.binder.Bound(),
			Observers:    c.dispatcher.Len(),
		}
		if b, ok := c.binder.Current(); ok {
			s.UserID = b.Identity.UserID
			s.Mailbox = b.Topic
		}
	})
	return s, err
}

// Metrics returns the client's metrics.
func (c *Client) Metrics() *metrics.Metrics {
	return c.metrics
}

// Close stops the watcher, tears down every component and disconnects the
// transport once. Later calls are no-ops.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		running := c.state == stateRunning
		c.state = stateClosed
		watcher := c.watcher
		c.mu.Unlock()

		if watcher != nil {
			_ = watcher.Close()
		}
		if running {
			ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
			if err := c.loop.Do(ctx, c.teardown); err != nil {
				c.logger.Warn("client: teardown", slog.Any("error", err))
			}
			cancel()
		} else {
			c.teardown()
		}

		c.loop.Close()
		if c.cancel != nil {
			c.cancel()
			<-c.done
		}
	})
	return nil
}

func (c *Client) teardown() {
	c.binder.Close()
	c.inbox.Close()
	c.dispatcher.Clear()
	c.transport.Disconnect()
	c.logger.Info("client: closed")
}

func (c *Client) focus() {
	c.transport.Foreground()
	if c.deps.OnFocus != nil {
		c.deps.OnFocus()
	}
}

// do runs fn on the loop and waits for it. Before Start nothing else runs
// component code, so fn runs inline.
func (c *Client) do(fn func()) error {
	c.mu.Lock()
	switch c.state {
	case stateClosed:
		c.mu.Unlock()
		return ErrClosed
	case stateIdle:
		defer c.mu.Unlock()
		fn()
		return nil
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	return c.loop.Do(ctx, fn)
}

func (c *Client) snapshot() metrics.Snapshot {
	var s metrics.Snapshot
	_ = c.do(func() {
		s = metrics.Snapshot{
			Transport: c.transport.Status(),
			Dispatch:  c.dispatcher.Stats(),
			Inbox:     c.inbox.Stats(),
		}
	})
	return s
}
