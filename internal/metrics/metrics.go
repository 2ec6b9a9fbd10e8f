// Package metrics holds the Prometheus collectors shared by the realtime and cache layers.
//
// Every recording method is safe on a nil *Metrics so components can run without
// instrumentation in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cache lookup outcomes.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Metrics collects realtime, cache and aggregation metrics.
type Metrics struct {
	connectionsOpen     *prometheus.GaugeVec
	connectionsRejected *prometheus.CounterVec
	envelopesSent       *prometheus.CounterVec
	deliveryFailures    *prometheus.CounterVec
	publishDuration     prometheus.Histogram
	cacheRequests       *prometheus.CounterVec
	cacheInvalidations  *prometheus.CounterVec
	cacheFillsDiscarded prometheus.Counter
	sectionFailures     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer; an empty namespace defaults to "tps".
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "tps"
	}

	m := &Metrics{
		connectionsOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connections_open",
			Help:      "Open realtime connections by kind.",
		}, []string{"kind"}),
		connectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connections_rejected_total",
			Help:      "Connections closed during the handshake, by close code.",
		}, []string{"code"}),
		envelopesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "envelopes_sent_total",
			Help:      "Envelopes submitted to groups, by envelope type.",
		}, []string{"type"}),
		deliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "delivery_failures_total",
			Help:      "Envelopes that could not be delivered, by reason.",
		}, []string{"reason"}),
		publishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "publish_duration_seconds",
			Help:      "Time spent resolving and submitting one published event.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms .. ~1s
		}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Cache lookups by result.",
		}, []string{"result"}),
		cacheInvalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Cache invalidations by scope.",
		}, []string{"scope"}),
		cacheFillsDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "fills_discarded_total",
			Help:      "Fills dropped because an invalidation happened while loading.",
		}),
		sectionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dashboard",
			Name:      "section_failures_total",
			Help:      "Aggregation sub-calls that failed and were replaced by defaults.",
		}, []string{"section"}),
	}

	reg.MustRegister(
		m.connectionsOpen,
		m.connectionsRejected,
		m.envelopesSent,
		m.deliveryFailures,
		m.publishDuration,
		m.cacheRequests,
		m.cacheInvalidations,
		m.cacheFillsDiscarded,
		m.sectionFailures,
	)
	return m
}

func (m *Metrics) ConnectionOpened(kind string) {
	if m == nil {
		return
	}
	m.connectionsOpen.WithLabelValues(kind).Inc()
}

func (m *Metrics) ConnectionClosed(kind string) {
	if m == nil {
		return
	}
	m.connectionsOpen.WithLabelValues(kind).Dec()
}

func (m *Metrics) ConnectionRejected(code string) {
	if m == nil {
		return
	}
	m.connectionsRejected.WithLabelValues(code).Inc()
}

func (m *Metrics) EnvelopeSent(envelopeType string) {
	if m == nil {
		return
	}
	m.envelopesSent.WithLabelValues(envelopeType).Inc()
}

func (m *Metrics) DeliveryFailed(reason string) {
	if m == nil {
		return
	}
	m.deliveryFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObservePublish(d time.Duration) {
	if m == nil {
		return
	}
	m.publishDuration.Observe(d.Seconds())
}

func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) CacheInvalidated(scope string) {
	if m == nil {
		return
	}
	m.cacheInvalidations.WithLabelValues(scope).Inc()
}

func (m *Metrics) CacheFillDiscarded() {
	if m == nil {
		return
	}
	m.cacheFillsDiscarded.Inc()
}

func (m *Metrics) SectionFailed(section string) {
	if m == nil {
		return
	}
	m.sectionFailures.WithLabelValues(section).Inc()
}
