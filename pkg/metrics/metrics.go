// Package metrics exports client counters in the Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tempinbox/tempinbox-go/pkg/connection"
	"github.com/tempinbox/tempinbox-go/pkg/dispatch"
	"github.com/tempinbox/tempinbox-go/pkg/inbox"
	"github.com/tempinbox/tempinbox-go/pkg/notify"
	"github.com/tempinbox/tempinbox-go/pkg/transport"
)

const namespace = "tempinbox"

// Snapshot is the component state read on every scrape.
type Snapshot struct {
	Transport transport.Status
	Dispatch  dispatch.Stats
	Inbox     inbox.Stats
}

// Metrics owns a registry with the client collectors.
type Metrics struct {
	registry *prometheus.Registry

	outcomes     *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	bindFailures *prometheus.CounterVec
}

// New creates the collectors. source is called on every scrape and must be
// safe to call from any goroutine.
func New(source func() Snapshot) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "os_notifications_total",
			Help:      "OS notification attempts by outcome",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_state_transitions_total",
			Help:      "Transport state transitions by target state",
		}, []string{"state"}),
		bindFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "binding_failures_total",
			Help:      "Account bindings that gave up, by reason",
		}, []string{"reason"}),
	}
	m.registry.MustRegister(m.outcomes, m.transitions, m.bindFailures)
	if source != nil {
		m.registry.MustRegister(newSnapshotCollector(source))
	}
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOutcome counts one presenter outcome.
func (m *Metrics) ObserveOutcome(o notify.Outcome) {
	m.outcomes.WithLabelValues(o.String()).Inc()
}

// ObserveStateChange counts one transport state change.
func (m *Metrics) ObserveStateChange(_, new connection.State) {
	m.transitions.WithLabelValues(new.String()).Inc()
}

// ObserveBindFailure counts one binding give-up.
func (m *Metrics) ObserveBindFailure(err error) {
	m.bindFailures.WithLabelValues(err.Error()).Inc()
}

type snapshotCollector struct {
	source func() Snapshot

	state          *prometheus.Desc
	attempts       *prometheus.Desc
	pongLatency    *prometheus.Desc
	observers      *prometheus.Desc
	dispatched     *prometheus.Desc
	observerErrors *prometheus.Desc
	rejected       *prometheus.Desc
	inbox          *prometheus.Desc
}

func newSnapshotCollector(source func() Snapshot) *snapshotCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &snapshotCollector{
		source:         source,
		state:          desc("transport_state", "Current transport state (1 for the active state)", "state"),
		attempts:       desc("transport_reconnect_attempts", "Consecutive failed connect attempts"),
		pongLatency:    desc("transport_pong_latency_seconds", "Latency of the last answered ping"),
		observers:      desc("dispatch_observers", "Registered notification observers"),
		dispatched:     desc("dispatch_notifications_total", "Notifications fanned out to observers"),
		observerErrors: desc("dispatch_observer_errors_total", "Observer failures"),
		rejected:       desc("dispatch_rejected_total", "Notification payloads rejected as invalid"),
		inbox:          desc("inbox_events_total", "Inbox coordinator events by kind", "kind"),
	}
}

func (c *snapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.state
	ch <- c.attempts
	ch <- c.pongLatency
	ch <- c.observers
	ch <- c.dispatched
	ch <- c.observerErrors
	ch <- c.rejected
	ch <- c.inbox
}

var states = []connection.State{
	connection.StateDisconnected,
	connection.StateConnecting,
	connection.StateConnected,
	connection.StateAuthenticated,
	connection.StateSubscribed,
	connection.StateDisabled,
}

func (c *snapshotCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.source()

	for _, st := range states {
		v := 0.0
		if s.Transport.State == st {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, v, st.String())
	}
	ch <- prometheus.MustNewConstMetric(c.attempts, prometheus.GaugeValue, float64(s.Transport.Attempts))
	ch <- prometheus.MustNewConstMetric(c.pongLatency, prometheus.GaugeValue, s.Transport.KeepAlive.LastLatency.Seconds())

	ch <- prometheus.MustNewConstMetric(c.observers, prometheus.GaugeValue, float64(s.Dispatch.Observers))
	ch <- prometheus.MustNewConstMetric(c.dispatched, prometheus.CounterValue, float64(s.Dispatch.Dispatched))
	ch <- prometheus.MustNewConstMetric(c.observerErrors, prometheus.CounterValue, float64(s.Dispatch.ObserverErrors))
	ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.CounterValue, float64(s.Dispatch.Rejected))

	kinds := []struct {
		kind string
		v    uint64
	}{
		{"notification", s.Inbox.Notifications},
		{"cycle", s.Inbox.Cycles},
		{"follow_up", s.Inbox.FollowUps},
		{"fallback", s.Inbox.Fallbacks},
		{"abandoned", s.Inbox.Abandoned},
		{"fetch_error", s.Inbox.FetchErrors},
		{"poll", s.Inbox.Polls},
	}
	for _, k := range kinds {
		ch <- prometheus.MustNewConstMetric(c.inbox, prometheus.CounterValue, float64(k.v), k.kind)
	}
}
