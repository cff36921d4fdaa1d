package session

import (
	"errors"
	"log/slog"
	"time"

	"github.com/tempinbox/tempinbox-go/pkg/connection"
	"github.com/tempinbox/tempinbox-go/pkg/loop"
	"github.com/tempinbox/tempinbox-go/pkg/wire"
)

// Default binding timing.
const (
	DefaultPollInterval   = 500 * time.Millisecond
	DefaultMaxReadyPolls  = 60
	DefaultSubscribeGrace = time.Second
)

// ErrBindTimeout is reported when the binding did not complete within the
// poll budget.
var ErrBindTimeout = errors.New("binding timed out waiting for transport")

// Subscriber joins a mailbox topic. Implemented by
// *subscription.RoomSubscription.
type Subscriber interface {
	Subscribe(topic string) bool
	Unsubscribe()
	Topic() string
}

// Config controls readiness polling.
type Config struct {
	PollInterval   time.Duration
	MaxReadyPolls  int
	SubscribeGrace time.Duration
}

// DefaultConfig returns the default binding timing.
func DefaultConfig() Config {
	return Config{
		PollInterval:   DefaultPollInterval,
		MaxReadyPolls:  DefaultMaxReadyPolls,
		SubscribeGrace: DefaultSubscribeGrace,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MaxReadyPolls <= 0 {
		c.MaxReadyPolls = d.MaxReadyPolls
	}
	if c.SubscribeGrace < 0 {
		c.SubscribeGrace = 0
	}
	return c
}

// Binding is the identity and mailbox topic of one account.
type Binding struct {
	Identity wire.Identity
	Topic    string
}

type bindPhase uint8

const (
	phaseIdle bindPhase = iota
	phaseAuth
	phaseSubscribe
	phaseBound
	phaseWaiting
)

// Binder authenticates and subscribes one account, polling the transport
// until it is ready. All methods must be called on the loop.
type Binder struct {
	l      *loop.Loop
	ch     Channel
	auth   *AuthSession
	sub    Subscriber
	config Config
	logger *slog.Logger

	binding  *Binding
	phase    bindPhase
	attempts int
	timer    *loop.Timer

	// gen invalidates timers armed for an earlier binding or phase.
	gen    uint64
	closed bool

	onBound  []func(Binding)
	onGiveUp []func(error)
}

// NewBinder creates a Binder and registers its transport hooks.
func NewBinder(l *loop.Loop, ch Channel, auth *AuthSession, sub Subscriber, config Config, logger *slog.Logger) *Binder {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Binder{
		l:      l,
		ch:     ch,
		auth:   auth,
		sub:    sub,
		config: config.withDefaults(),
		logger: logger,
	}
	ch.OnConnected(b.onConnected)
	ch.OnDisconnected(b.onDisconnected)
	return b
}

// OnBound registers fn to run each time the binding completes, including
// after a reconnect.
func (b *Binder) OnBound(fn func(Binding)) {
	b.onBound = append(b.onBound, fn)
}

// OnGiveUp registers fn to run when binding stops without completing.
// The error is ErrBindTimeout or connection.ErrDisabled.
func (b *Binder) OnGiveUp(fn func(error)) {
	b.onGiveUp = append(b.onGiveUp, fn)
}

// Bind starts binding the account. Binding the current account again is a
// no-op. A different account replaces the current one.
func (b *Binder) Bind(binding Binding) {
	if b.closed {
		return
	}
	if b.binding != nil && *b.binding == binding && b.phase != phaseIdle && b.phase != phaseWaiting {
		return
	}
	if b.binding != nil && b.binding.Topic != binding.Topic && b.sub.Topic() != "" {
		b.sub.Unsubscribe()
	}

	b.binding = &binding
	b.restart(phaseAuth)
	b.logger.Debug("session: binding account",
		slog.String("user_id", binding.Identity.UserID),
		slog.String("topic", binding.Topic))
	b.step(b.gen)
}

// Unbind stops binding, leaves the topic and forgets the identity.
func (b *Binder) Unbind() {
	b.cancel()
	b.phase = phaseIdle
	if b.binding == nil {
		return
	}
	b.binding = nil
	b.sub.Unsubscribe()
	b.auth.Forget()
}

// Close stops all timers. Later calls are ignored.
func (b *Binder) Close() {
	b.cancel()
	b.phase = phaseIdle
	b.closed = true
}

// Bound returns true if the current binding completed on the current
// transport session.
func (b *Binder) Bound() bool {
	return b.phase == phaseBound
}

// Current returns the current binding, if any.
func (b *Binder) Current() (Binding, bool) {
	if b.binding == nil {
		return Binding{}, false
	}
	return *b.binding, true
}

func (b *Binder) cancel() {
	b.gen++
	b.timer.Stop()
	b.timer = nil
}

func (b *Binder) restart(phase bindPhase) {
	b.cancel()
	b.phase = phase
	b.attempts = 0
}

func (b *Binder) arm(d time.Duration) {
	gen := b.gen
	b.timer = b.l.AfterFunc(d, func() { b.step(gen) })
}

func (b *Binder) step(gen uint64) {
	if gen != b.gen || b.closed || b.binding == nil {
		return
	}
	if b.ch.State() == connection.StateDisabled {
		b.giveUp(connection.ErrDisabled)
		return
	}

	switch b.phase {
	case phaseAuth:
		if b.auth.Authenticate(b.binding.Identity) {
			b.restart(phaseSubscribe)
			b.arm(b.config.SubscribeGrace)
			return
		}
	case phaseSubscribe:
		// Authenticate is idempotent within a session and covers an
		// identity that never reached the server.
		if b.auth.Authenticate(b.binding.Identity) && b.sub.Subscribe(b.binding.Topic) {
			b.phase = phaseBound
			b.attempts = 0
			b.logger.Info("session: account bound", slog.String("topic", b.binding.Topic))
			for _, fn := range b.onBound {
				fn(*b.binding)
			}
			return
		}
	default:
		return
	}

	b.attempts++
	if b.attempts > b.config.MaxReadyPolls {
		b.giveUp(ErrBindTimeout)
		return
	}
	b.arm(b.config.PollInterval)
}

func (b *Binder) giveUp(err error) {
	b.cancel()
	b.phase = phaseWaiting
	b.logger.Warn("session: binding stopped", slog.Any("error", err))
	for _, fn := range b.onGiveUp {
		fn(err)
	}
}

func (b *Binder) onConnected() {
	if b.closed || b.binding == nil {
		return
	}
	// The identity is replayed by AuthSession; re-run the subscribe phase.
	b.restart(phaseSubscribe)
	b.arm(b.config.SubscribeGrace)
}

func (b *Binder) onDisconnected(reason string) {
	if b.phase == phaseBound {
		b.phase = phaseWaiting
		b.logger.Debug("session: binding lost", slog.String("reason", reason))
	}
}
