package log

import (
	"sync"
)

// MultiLogger fans capture events out to several sinks, typically a
// FileLogger plus a SlogAdapter at debug level. Log runs on the client's
// event loop; a sink that panics is recovered and removed.
type MultiLogger struct {
	mu        sync.RWMutex
	sinks     []*sink
	onFailure func(Logger, any)
}

// sink gives each added logger an identity, since Logger values need not
// be comparable.
type sink struct {
	Logger
}

// NewMultiLogger creates a MultiLogger. Nil loggers are skipped.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	m := &MultiLogger{}
	for _, l := range loggers {
		m.Add(l)
	}
	return m
}

// Add appends a sink. Nil is ignored.
func (m *MultiLogger) Add(l Logger) {
	if l == nil {
		return
	}
	m.mu.Lock()
	m.sinks = append(m.sinks, &sink{l})
	m.mu.Unlock()
}

// OnFailure registers fn to be told about a sink removed after a panic.
// fn receives the sink and the recovered value.
func (m *MultiLogger) OnFailure(fn func(Logger, any)) {
	m.mu.Lock()
	m.onFailure = fn
	m.mu.Unlock()
}

// Log sends the event to every sink in the order they were added.
func (m *MultiLogger) Log(event Event) {
	m.mu.RLock()
	sinks := m.sinks
	m.mu.RUnlock()

	for _, s := range sinks {
		if r := logRecovered(s.Logger, event); r != nil {
			m.remove(s, r)
		}
	}
}

// Len returns the number of live sinks.
func (m *MultiLogger) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sinks)
}

func logRecovered(l Logger, event Event) (recovered any) {
	defer func() {
		recovered = recover()
	}()
	l.Log(event)
	return nil
}

func (m *MultiLogger) remove(failed *sink, r any) {
	m.mu.Lock()
	kept := make([]*sink, 0, len(m.sinks))
	for _, s := range m.sinks {
		if s != failed {
			kept = append(kept, s)
		}
	}
	m.sinks = kept
	fn := m.onFailure
	m.mu.Unlock()

	if fn != nil {
		fn(failed.Logger, r)
	}
}

// Compile-time interface satisfaction check.
var _ Logger = (*MultiLogger)(nil)
