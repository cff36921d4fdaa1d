package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/tempinbox/tempinbox-go/pkg/log"
	"github.com/tempinbox/tempinbox-go/pkg/wire"
)

// ErrObserverNotComparable is returned when registering an observer whose
// dynamic value cannot be compared, such as a func or a struct holding a
// slice. Use a pointer implementation instead.
var ErrObserverNotComparable = errors.New("observer is not comparable")

// Observer receives dispatched notifications.
type Observer interface {
	OnNotification(n wire.Notification) error
}

// Presenter shows a notification outside the process. Implemented by
// *notify.Presenter.
type Presenter interface {
	Emit(n wire.Notification)
}

// PanicError wraps a value recovered from a panicking observer.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("observer panicked: %v", e.Value)
}

// Dispatcher fans notifications out to observers. It is confined to the
// event loop and does no locking.
type Dispatcher struct {
	observers []Observer
	presenter Presenter
	logger    *slog.Logger
	capture   log.Logger
	connID    func() string

	onObserverError []func(Observer, error)
	onDispatch      []func(wire.Notification)

	dispatched     uint64
	observerErrors uint64
	rejected       uint64
}

// New creates a Dispatcher. presenter may be nil.
func New(presenter Presenter, logger *slog.Logger, capture log.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		presenter: presenter,
		logger:    logger,
		capture:   log.OrNoop(capture),
		connID:    func() string { return "" },
	}
}

// SetConnectionID sets the source of the connection id recorded with
// captured events.
func (d *Dispatcher) SetConnectionID(fn func() string) {
	d.connID = fn
}

// Subscribe registers o. Registering the same observer twice is a no-op.
func (d *Dispatcher) Subscribe(o Observer) error {
	if o == nil {
		return fmt.Errorf("%w: nil", ErrObserverNotComparable)
	}
	if !reflect.ValueOf(o).Comparable() {
		return fmt.Errorf("%w: %T", ErrObserverNotComparable, o)
	}
	if d.index(o) >= 0 {
		return nil
	}
	d.observers = append(d.observers, o)
	return nil
}

// Unsubscribe removes o. No-op if o is not registered.
func (d *Dispatcher) Unsubscribe(o Observer) {
	if o == nil || !reflect.ValueOf(o).Comparable() {
		return
	}
	i := d.index(o)
	if i < 0 {
		return
	}
	d.observers = append(d.observers[:i:i], d.observers[i+1:]...)
}

// Clear removes all observers.
func (d *Dispatcher) Clear() {
	d.observers = nil
}

// Len returns the number of registered observers.
func (d *Dispatcher) Len() int {
	return len(d.observers)
}

// OnObserverError registers fn to run when an observer fails.
func (d *Dispatcher) OnObserverError(fn func(Observer, error)) {
	d.onObserverError = append(d.onObserverError, fn)
}

// OnDispatch registers fn to run once per dispatched notification, before
// the observers.
func (d *Dispatcher) OnDispatch(fn func(wire.Notification)) {
	d.onDispatch = append(d.onDispatch, fn)
}

// HandlePayload decodes a new_email_notification payload and dispatches it.
// A payload that fails validation is logged and counted as rejected, and an
// empty Notification is dispatched in its place: the event still means a
// message arrived.
func (d *Dispatcher) HandlePayload(data json.RawMessage) {
	n, err := wire.DecodeNotification(data)
	if err != nil {
		d.rejected++
		d.logger.Warn("dispatch: invalid notification payload", slog.Any("error", err))
		d.capture.Log(log.Event{
			Timestamp:    time.Now(),
			ConnectionID: d.connID(),
			Direction:    log.DirectionIn,
			Layer:        log.LayerSession,
			Category:     log.CategoryError,
			Error: &log.ErrorEventData{
				Layer:   log.LayerSession,
				Message: err.Error(),
				Context: wire.EventNewEmail,
			},
		})
		n = wire.Notification{}
	}
	d.Dispatch(n)
}

// Dispatch runs every observer with n, then the presenter.
func (d *Dispatcher) Dispatch(n wire.Notification) {
	d.dispatched++
	for _, fn := range d.onDispatch {
		fn(n)
	}

	// Observers may unsubscribe while running.
	observers := append([]Observer(nil), d.observers...)
	for _, o := range observers {
		if err := d.call(o, n); err != nil {
			d.observerErrors++
			d.logger.Error("dispatch: observer failed",
				slog.String("observer", fmt.Sprintf("%T", o)),
				slog.Any("error", err))
			for _, fn := range d.onObserverError {
				fn(o, err)
			}
		}
	}

	if d.presenter != nil {
		d.presenter.Emit(n)
	}
}

// Stats returns the dispatch counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Observers:      len(d.observers),
		Dispatched:     d.dispatched,
		ObserverErrors: d.observerErrors,
		Rejected:       d.rejected,
	}
}

// Stats is a snapshot of dispatch counters.
type Stats struct {
	Observers      int
	Dispatched     uint64
	ObserverErrors uint64
	Rejected       uint64
}

func (d *Dispatcher) call(o Observer, n wire.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return o.OnNotification(n)
}

func (d *Dispatcher) index(o Observer) int {
	for i, existing := range d.observers {
		if existing == o {
			return i
		}
	}
	return -1
}
