// Package metrics holds the Prometheus collectors for the hookd pipeline.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hookd"

// Metrics groups every pipeline collector. A zero registerer keeps the
// collectors private, which is what tests and embedded callers want.
type Metrics struct {
	mu         sync.Mutex
	registerer prometheus.Registerer
	registered bool

	// listener
	ConnectionsAccepted prometheus.Counter
	ConnectionsActive   prometheus.Gauge
	LinesReceived       prometheus.Counter
	DecodeErrors        prometheus.Counter

	// enrichment
	Enriched         prometheus.Counter
	Unattributable   prometheus.Counter
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	GitQueryFailures *prometheus.CounterVec

	// publisher
	Submitted      prometheus.Counter
	Dropped        prometheus.Counter
	Published      prometheus.Counter
	PublishErrors  prometheus.Counter
	Reconnects     prometheus.Counter
	QueueDepth     prometheus.Gauge
	PublisherState prometheus.Gauge
}

func newCounter(subsystem, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

func newGauge(subsystem, name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

// New creates the collectors. Call Register to expose them on registerer.
func New(registerer prometheus.Registerer) *Metrics {
	return &Metrics{
		registerer: registerer,

		ConnectionsAccepted: newCounter("listener", "connections_total", "Connections accepted on the hook socket"),
		ConnectionsActive:   newGauge("listener", "connections_active", "Connections currently open on the hook socket"),
		LinesReceived:       newCounter("listener", "lines_total", "Non-blank lines read from hook clients"),
		DecodeErrors:        newCounter("listener", "decode_errors_total", "Lines rejected because they are not a valid envelope"),

		Enriched:       newCounter("enrich", "events_total", "Envelopes enriched with repository context"),
		Unattributable: newCounter("enrich", "unattributable_total", "Envelopes dropped because no repository could be resolved"),
		CacheHits:      newCounter("enrich", "cache_hits_total", "Repository context served from cache"),
		CacheMisses:    newCounter("enrich", "cache_misses_total", "Repository context resolved from git"),
		GitQueryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrich",
			Name:      "git_query_failures_total",
			Help:      "Failed git invocations by query",
		}, []string{"query"}),

		Submitted:      newCounter("publisher", "submitted_total", "Events accepted into the publish queue"),
		Dropped:        newCounter("publisher", "dropped_total", "Events dropped because the publish queue was full or closed"),
		Published:      newCounter("publisher", "published_total", "Events published to the exchange"),
		PublishErrors:  newCounter("publisher", "errors_total", "Broker connection or publish failures"),
		Reconnects:     newCounter("publisher", "reconnects_total", "Broker connection attempts after a failure"),
		QueueDepth:     newGauge("publisher", "queue_depth", "Events waiting in the publish queue"),
		PublisherState: newGauge("publisher", "state", "Current publisher state (0 disconnected, 1 connecting, 2 exchange declared, 3 publishing, 4 stopped)"),
	}
}

// Register registers the collectors. Safe to call multiple times; a nil
// registerer makes it a no-op.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered || m.registerer == nil {
		return nil
	}

	for _, c := range m.collectors() {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ConnectionsAccepted,
		m.ConnectionsActive,
		m.LinesReceived,
		m.DecodeErrors,
		m.Enriched,
		m.Unattributable,
		m.CacheHits,
		m.CacheMisses,
		m.GitQueryFailures,
		m.Submitted,
		m.Dropped,
		m.Published,
		m.PublishErrors,
		m.Reconnects,
		m.QueueDepth,
		m.PublisherState,
	}
}

// Handler serves the metrics registered on gatherer in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// OrNew returns m, or a fresh unregistered set when m is nil.
func OrNew(m *Metrics) *Metrics {
	if m != nil {
		return m
	}
	return New(nil)
}
