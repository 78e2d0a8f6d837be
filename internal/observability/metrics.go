package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the relay.
type Metrics struct {
	// --- Ingestion & routing ---
	EventsApplied  *prometheus.CounterVec
	EventsDropped  *prometheus.CounterVec
	HandleDuration *prometheus.HistogramVec

	// --- Fan-out ---
	BroadcastsTotal      prometheus.Counter
	ObserverSendFailures prometheus.Counter
	ObserversAttached    prometheus.Gauge

	// --- Cold-start replay ---
	ReplayEvents   prometheus.Counter
	ReplayDuration prometheus.Histogram

	// --- Snapshot store ---
	StoreEntities *prometheus.GaugeVec

	// --- Mode ---
	DegradedMode prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	handleBuckets := []float64{
		0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.005,
	}

	return &Metrics{
		EventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mw_events_applied_total",
			Help: "Bus events routed and applied to the snapshot store",
		}, []string{"kind"}),

		EventsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mw_events_dropped_total",
			Help: "Bus events dropped (malformed payload or unknown subject)",
		}, []string{"reason"}),

		HandleDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mw_event_handle_duration_seconds",
			Help:    "Time to route, apply and broadcast one bus event",
			Buckets: handleBuckets,
		}, []string{"kind"}),

		BroadcastsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mw_broadcasts_total",
			Help: "Fan-out events broadcast to observers",
		}),

		ObserverSendFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mw_observer_send_failures_total",
			Help: "Observer deliveries that failed and detached the observer",
		}),

		ObserversAttached: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "mw_observers_attached",
			Help: "Currently attached observers",
		}),

		ReplayEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mw_replay_events_total",
			Help: "Snapshot events replayed to newly attached observers",
		}),

		ReplayDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mw_replay_duration_seconds",
			Help:    "Time to replay the full snapshot to one observer",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),

		StoreEntities: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mw_store_entities",
			Help: "Entities currently held per snapshot namespace",
		}, []string{"namespace"}),

		DegradedMode: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "mw_degraded_mode",
			Help: "1 when running on synthesized data, 0 when live",
		}),
	}
}
