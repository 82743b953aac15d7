package watcher

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what a DirectoryWatcher delivers and drops. A nil *Metrics
// records nothing.
type Metrics struct {
	delivered   *prometheus.CounterVec
	dropped     prometheus.Counter
	invalidated prometheus.Counter
	panics      prometheus.Counter
	directories prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dirwatch",
			Name:      "events_delivered_total",
			Help:      "Path events handed to the handler, by kind.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dirwatch",
			Name:      "notifications_dropped_total",
			Help:      "Overflow and unsupported notifications that carried no path.",
		}),
		invalidated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dirwatch",
			Name:      "directories_invalidated_total",
			Help:      "Directories removed from the registry because they could not be re-armed.",
		}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dirwatch",
			Name:      "handler_panics_total",
			Help:      "Handler invocations that panicked.",
		}),
		directories: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dirwatch",
			Name:      "directories_watched",
			Help:      "Directories currently in the registry.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.delivered, m.dropped, m.invalidated, m.panics, m.directories)
	}
	return m
}

func (m *Metrics) eventDelivered(k Kind) {
	if m == nil {
		return
	}
	m.delivered.WithLabelValues(string(k)).Inc()
}

func (m *Metrics) notificationDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *Metrics) directoryInvalidated() {
	if m == nil {
		return
	}
	m.invalidated.Inc()
}

func (m *Metrics) handlerPanicked() {
	if m == nil {
		return
	}
	m.panics.Inc()
}

func (m *Metrics) setDirectories(n int) {
	if m == nil {
		return
	}
	m.directories.Set(float64(n))
}
