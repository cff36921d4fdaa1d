package subscription

import (
	"log/slog"
	"time"

	"github.com/tempinbox/tempinbox-go/pkg/connection"
	"github.com/tempinbox/tempinbox-go/pkg/log"
	"github.com/tempinbox/tempinbox-go/pkg/session"
	"github.com/tempinbox/tempinbox-go/pkg/wire"
)

// Authenticator reports whether the current transport session carries an
// acknowledged identity. Implemented by *session.AuthSession.
type Authenticator interface {
	Authenticated() bool
}

var (
	_ Authenticator      = (*session.AuthSession)(nil)
	_ session.Subscriber = (*RoomSubscription)(nil)
)

// RoomSubscription tracks the mailbox room of the current transport session.
type RoomSubscription struct {
	ch      session.Channel
	auth    Authenticator
	logger  *slog.Logger
	capture log.Logger
	now     func() time.Time

	topic string
}

// NewRoomSubscription creates a RoomSubscription and registers its
// disconnect hook.
func NewRoomSubscription(ch session.Channel, auth Authenticator, logger *slog.Logger, capture log.Logger) *RoomSubscription {
	if logger == nil {
		logger = slog.Default()
	}
	r := &RoomSubscription{
		ch:      ch,
		auth:    auth,
		logger:  logger,
		capture: log.OrNoop(capture),
		now:     time.Now,
	}
	ch.OnDisconnected(r.onDisconnected)
	return r
}

// Subscribe joins topic. It returns false without side effects when the
// transport is not ready, the identity is not acknowledged yet, or a
// different topic is active. Subscribing to the active topic again returns
// true without emitting.
func (r *RoomSubscription) Subscribe(topic string) bool {
	if topic == "" {
		r.logger.Debug("subscription: empty topic ignored")
		return false
	}
	if !r.ch.IsReady() {
		r.logger.Debug("subscription: skipped, transport not ready",
			slog.String("state", r.ch.State().String()))
		return false
	}
	if !r.auth.Authenticated() {
		r.logger.Debug("subscription: skipped, not authenticated", slog.String("topic", topic))
		return false
	}
	if r.topic == topic {
		return true
	}
	if r.topic != "" {
		r.logger.Debug("subscription: refused, another topic is active",
			slog.String("active", r.topic),
			slog.String("topic", topic))
		return false
	}

	if err := r.ch.Emit(wire.EventJoinEmailRoom, topic); err != nil {
		r.logger.Debug("subscription: join emit failed", slog.Any("error", err))
		return false
	}
	r.topic = topic
	if err := r.ch.SetSessionState(connection.StateSubscribed); err != nil {
		r.logger.Debug("subscription: state update failed", slog.Any("error", err))
	}
	r.logger.Info("subscription: joined", slog.String("topic", topic))
	r.captureState("", topic, "")
	return true
}

// Unsubscribe forgets the active topic. No message is sent; the server
// drops the room with the session.
func (r *RoomSubscription) Unsubscribe() {
	if r.topic == "" {
		return
	}
	old := r.topic
	r.topic = ""
	if r.ch.State() == connection.StateSubscribed {
		if err := r.ch.SetSessionState(connection.StateAuthenticated); err != nil {
			r.logger.Debug("subscription: state update failed", slog.Any("error", err))
		}
	}
	r.captureState(old, "", "unsubscribe")
}

// Topic returns the active topic, or "" if none.
func (r *RoomSubscription) Topic() string {
	return r.topic
}

func (r *RoomSubscription) onDisconnected(reason string) {
	if r.topic == "" {
		return
	}
	old := r.topic
	r.topic = ""
	r.captureState(old, "", reason)
}

func (r *RoomSubscription) captureState(old, new, reason string) {
	mailbox := new
	if mailbox == "" {
		mailbox = old
	}
	r.capture.Log(log.Event{
		Timestamp:    r.now(),
		ConnectionID: r.ch.ConnectionID(),
		Direction:    log.DirectionLocal,
		Layer:        log.LayerSession,
		Category:     log.CategoryState,
		Mailbox:      mailbox,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySubscription,
			OldState: old,
			NewState: new,
			Reason:   reason,
		},
	})
}
