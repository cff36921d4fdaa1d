package session

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/tempinbox/tempinbox-go/pkg/connection"
	"github.com/tempinbox/tempinbox-go/pkg/log"
	"github.com/tempinbox/tempinbox-go/pkg/transport"
	"github.com/tempinbox/tempinbox-go/pkg/wire"
)

// Channel is the part of the transport the session layer drives.
// Implemented by *transport.Transport.
type Channel interface {
	IsReady() bool
	State() connection.State
	ConnectionID() string
	Emit(event string, payload any) error
	Handle(event string, fn func(data json.RawMessage))
	OnConnected(fn func())
	OnDisconnected(fn func(reason string))
	SetSessionState(s connection.State) error
}

var _ Channel = (*transport.Transport)(nil)

// AuthSession binds an identity to the transport session.
type AuthSession struct {
	ch      Channel
	logger  *slog.Logger
	capture log.Logger
	now     func() time.Time

	identity wire.Identity

	// sent is true once authenticate was emitted on the current session.
	sent bool

	// acked is true once the server acknowledged the current identity.
	acked bool
}

// NewAuthSession creates an AuthSession and registers its transport hooks.
func NewAuthSession(ch Channel, logger *slog.Logger, capture log.Logger) *AuthSession {
	if logger == nil {
		logger = slog.Default()
	}
	a := &AuthSession{
		ch:      ch,
		logger:  logger,
		capture: log.OrNoop(capture),
		now:     time.Now,
	}
	ch.Handle(wire.EventAuthenticated, a.onAck)
	ch.OnConnected(a.onConnected)
	ch.OnDisconnected(a.onDisconnected)
	return a
}

// Authenticate emits the identity when the transport is ready. It returns
// false without side effects when the transport is not ready so the caller
// can poll. The same identity is not resent within one transport session.
func (a *AuthSession) Authenticate(id wire.Identity) bool {
	if id.IsZero() {
		a.logger.Debug("session: authenticate without user id ignored")
		return false
	}
	if !a.ch.IsReady() {
		a.logger.Debug("session: authenticate skipped, transport not ready",
			slog.String("state", a.ch.State().String()))
		return false
	}
	if a.sent && a.identity == id {
		return true
	}

	if a.acked && a.identity != id {
		// A different identity invalidates the previous acknowledgment.
		a.acked = false
		if a.ch.State() > connection.StateConnected {
			_ = a.ch.SetSessionState(connection.StateConnected)
		}
	}

	if err := a.ch.Emit(wire.EventAuthenticate, id); err != nil {
		a.logger.Debug("session: authenticate emit failed", slog.Any("error", err))
		return false
	}
	a.identity = id
	a.sent = true
	a.logger.Debug("session: authenticate sent", slog.String("user_id", id.UserID))
	return true
}

// Authenticated returns true if the server acknowledged the identity on the
// current session.
func (a *AuthSession) Authenticated() bool {
	return a.acked && a.ch.IsReady()
}

// Identity returns the stored identity.
func (a *AuthSession) Identity() wire.Identity {
	return a.identity
}

// Forget drops the stored identity so it is no longer replayed. The current
// session keeps its server-side binding until it ends.
func (a *AuthSession) Forget() {
	a.identity = wire.Identity{}
	a.sent = false
	a.acked = false
}

func (a *AuthSession) onConnected() {
	a.sent = false
	a.acked = false
	if a.identity.IsZero() {
		return
	}
	id := a.identity
	a.identity = wire.Identity{}
	if !a.Authenticate(id) {
		// Keep it for the next session.
		a.identity = id
	}
}

func (a *AuthSession) onAck(json.RawMessage) {
	if !a.sent {
		a.logger.Debug("session: unsolicited authenticated ack ignored")
		return
	}
	if a.acked {
		return
	}
	a.acked = true
	if a.ch.State() == connection.StateConnected {
		if err := a.ch.SetSessionState(connection.StateAuthenticated); err != nil {
			a.logger.Debug("session: state update failed", slog.Any("error", err))
		}
	}
	a.logger.Info("session: authenticated", slog.String("user_id", a.identity.UserID))
	a.captureState("SENT", "AUTHENTICATED", "")
}

func (a *AuthSession) onDisconnected(reason string) {
	if a.sent || a.acked {
		a.captureState("AUTHENTICATED", "NEEDS_AUTH", reason)
	}
	a.sent = false
	a.acked = false
}

func (a *AuthSession) captureState(old, new, reason string) {
	a.capture.Log(log.Event{
		Timestamp:    a.now(),
		ConnectionID: a.ch.ConnectionID(),
		Direction:    log.DirectionLocal,
		Layer:        log.LayerSession,
		Category:     log.CategoryState,
		AccountID:    a.identity.UserID,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityAuth,
			OldState: old,
			NewState: new,
			Reason:   reason,
		},
	})
}
