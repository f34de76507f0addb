// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"curve-tracker/internal/events"
)

// DefaultNamespace is used when NewMetrics gets an empty namespace.
const DefaultNamespace = "curve_tracker"

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	namespace string
	factory   promauto.Factory
	maxSlot   atomic.Uint64

	// Ingestion metrics
	MessagesProcessed prometheus.Counter
	MessagesRejected  prometheus.Counter
	EventsDecoded     *prometheus.CounterVec
	DecodeFailures    *prometheus.CounterVec
	ReservesRejected  *prometheus.CounterVec
	EventFaults       prometheus.Counter
	HighestSlotSeen   prometheus.Gauge

	// Latency metrics
	MessageLatency prometheus.Histogram
	BatchLatency   prometheus.Histogram

	// Outward event metrics
	TokensDiscovered prometheus.Counter
	TokensGraduated  prometheus.Counter
	ThresholdCrossed prometheus.Counter
	DiscoveryFailed  prometheus.Counter

	// Batch metrics
	BatchesProcessed prometheus.Counter
	BatchesFailed    prometheus.Counter
	RecordsPersisted prometheus.Counter
	ItemsDropped     *prometheus.CounterVec

	// Kafka metrics
	PublishErrors prometheus.Counter
}

// NewMetrics creates all metrics registered against reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	f := promauto.With(reg)

	return &Metrics{
		namespace: namespace,
		factory:   f,

		MessagesProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "messages_processed_total",
			Help:      "Total number of stream messages processed",
		}),
		MessagesRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "messages_rejected_total",
			Help:      "Total number of stream messages failing input validation",
		}),
		EventsDecoded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_decoded_total",
			Help:      "Total number of trade events decoded by layout",
		}, []string{"layout"}),
		DecodeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "decode_failures_total",
			Help:      "Total number of decode failures by kind",
		}, []string{"kind"}),
		ReservesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "reserves_rejected_total",
			Help:      "Total number of events rejected by reserve validation by reason",
		}, []string{"reason"}),
		EventFaults: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "event_faults_total",
			Help:      "Total number of events aborted by an unexpected fault",
		}),
		HighestSlotSeen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "highest_slot_seen",
			Help:      "Highest Solana slot number seen",
		}),

		MessageLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "message_latency_seconds",
			Help:      "Time spent processing one stream message",
			Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .05},
		}),
		BatchLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "write_latency_seconds",
			Help:      "Latency of successful batch writes",
			Buckets:   prometheus.DefBuckets,
		}),

		TokensDiscovered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "tokens_discovered_total",
			Help:      "Total number of mints seen for the first time",
		}),
		TokensGraduated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "tokens_graduated_total",
			Help:      "Total number of mints that completed their bonding curve",
		}),
		ThresholdCrossed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "threshold_crossed_total",
			Help:      "Total number of mints that first qualified for persistence",
		}),
		DiscoveryFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "discovery_failed_total",
			Help:      "Total number of mints whose discovery could not be saved",
		}),

		BatchesProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "batches_processed_total",
			Help:      "Total number of batches written",
		}),
		BatchesFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "batches_failed_total",
			Help:      "Total number of batches dropped after exhausting retries",
		}),
		RecordsPersisted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "records_persisted_total",
			Help:      "Total number of records written",
		}),
		ItemsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "items_dropped_total",
			Help:      "Total number of records dropped by reason",
		}, []string{"reason"}),

		PublishErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "publish_errors_total",
			Help:      "Total number of outward events that could not be published",
		}),
	}
}

// GaugeFunc registers a gauge whose value is read from fn at scrape time.
func (m *Metrics) GaugeFunc(subsystem, name, help string, fn func() float64) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn)
}

// Subscribe counts outward events published on bus.
func (m *Metrics) Subscribe(bus *events.Bus) {
	bus.Subscribe(m.observe)
}

func (m *Metrics) observe(ev events.Event) {
	switch ev.Name {
	case events.TokenDiscovered:
		m.TokensDiscovered.Inc()
	case events.TokenGraduated:
		m.TokensGraduated.Inc()
	case events.TokenThresholdCrossed:
		m.ThresholdCrossed.Inc()
	case events.TokenDiscoveryFailed:
		m.DiscoveryFailed.Inc()
	case events.BatchProcessed:
		m.BatchesProcessed.Inc()
		m.RecordsPersisted.Add(float64(ev.Count))
		m.BatchLatency.Observe(float64(ev.LatencyMs) / 1000)
	case events.BatchFailed:
		m.BatchesFailed.Inc()
	case events.ItemDropped:
		m.ItemsDropped.WithLabelValues(ev.Reason).Inc()
	}
}

// UpdateHighestSlot raises the highest slot gauge; lower slots are ignored.
func (m *Metrics) UpdateHighestSlot(slot uint64) {
	for {
		cur := m.maxSlot.Load()
		if slot <= cur {
			return
		}
		if m.maxSlot.CompareAndSwap(cur, slot) {
			m.HighestSlotSeen.Set(float64(slot))
			return
		}
	}
}
