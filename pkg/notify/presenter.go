package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/tempinbox/tempinbox-go/pkg/log"
	"github.com/tempinbox/tempinbox-go/pkg/loop"
	"github.com/tempinbox/tempinbox-go/pkg/wire"
)

// DefaultDismissAfter is how long a notification stays on screen.
const DefaultDismissAfter = 5 * time.Second

// Outcome is the result of one Emit.
type Outcome uint8

const (
	OutcomeShown Outcome = iota
	OutcomeDenied
	OutcomeDropped
	OutcomeFailed
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeShown:
		return "shown"
	case OutcomeDenied:
		return "denied"
	case OutcomeDropped:
		return "dropped"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Title returns the notification title for n.
func Title(n wire.Notification) string {
	subject := n.Subject
	if subject == "" {
		subject = "New Message"
	}
	return "New Email: " + subject
}

// Body returns the notification body for n.
func Body(n wire.Notification) string {
	from := n.From
	if from == "" {
		from = "Unknown sender"
	}
	return "From: " + from
}

// Presenter applies the permission policy and shows notifications. Emit
// must be called on the loop; platform calls run off the loop.
type Presenter struct {
	l        *loop.Loop
	platform Platform
	logger   *slog.Logger
	capture  log.Logger

	// DismissAfter is passed to the platform as the display timeout.
	DismissAfter time.Duration

	// Focus runs on the loop when a notification is clicked.
	Focus func()

	requesting bool
	onOutcome  []func(Outcome)
}

// NewPresenter creates a Presenter.
func NewPresenter(l *loop.Loop, platform Platform, logger *slog.Logger, capture log.Logger) *Presenter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Presenter{
		l:            l,
		platform:     platform,
		logger:       logger,
		capture:      log.OrNoop(capture),
		DismissAfter: DefaultDismissAfter,
	}
}

// OnOutcome registers fn to run with the result of every Emit.
func (p *Presenter) OnOutcome(fn func(Outcome)) {
	p.onOutcome = append(p.onOutcome, fn)
}

// Requesting returns true while a permission request is pending.
func (p *Presenter) Requesting() bool {
	return p.requesting
}

// Emit shows n if the platform permits it.
func (p *Presenter) Emit(n wire.Notification) {
	switch perm := p.platform.Permission(); perm {
	case PermissionGranted:
		p.show(n)
	case PermissionDenied:
		p.report(OutcomeDenied)
	default:
		if p.requesting {
			p.logger.Debug("notify: permission request pending, notification dropped")
			p.report(OutcomeDropped)
			return
		}
		p.requesting = true
		p.l.Go(func(ctx context.Context) func() {
			answer, err := p.platform.RequestPermission(ctx)
			return func() {
				p.requesting = false
				if err != nil {
					p.logger.Warn("notify: permission request failed", slog.Any("error", err))
					p.report(OutcomeFailed)
					return
				}
				p.logger.Info("notify: permission answered", slog.String("permission", answer.String()))
				if answer != PermissionGranted {
					p.report(OutcomeDenied)
					return
				}
				p.show(n)
			}
		})
	}
}

func (p *Presenter) show(n wire.Notification) {
	title, body := Title(n), Body(n)
	opts := ShowOptions{Tag: n.UID, Timeout: p.DismissAfter}
	if p.Focus != nil {
		focus := p.Focus
		opts.OnClick = func() { p.l.Post(focus) }
	}

	p.l.Go(func(ctx context.Context) func() {
		err := p.platform.Show(ctx, title, body, opts)
		return func() {
			if err != nil {
				p.logger.Warn("notify: show failed", slog.Any("error", err))
				p.report(OutcomeFailed)
				return
			}
			p.capture.Log(log.Event{
				Timestamp: time.Now(),
				Direction: log.DirectionLocal,
				Layer:     log.LayerInbox,
				Category:  log.CategoryMessage,
				Message:   &log.MessageEvent{Event: "system_notification", Payload: title},
			})
			p.report(OutcomeShown)
		}
	})
}

func (p *Presenter) report(o Outcome) {
	for _, fn := range p.onOutcome {
		fn(o)
	}
}
