package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for zone scanning.
type Metrics struct {
	CandlesScanned   *prometheus.CounterVec   // labels: tf
	ZonesCreated     *prometheus.CounterVec   // labels: tf, kind, direction
	ZonesInvalidated *prometheus.CounterVec   // labels: tf, kind
	AnchorMisses     *prometheus.CounterVec   // labels: tf
	DetectDur        *prometheus.HistogramVec // labels: tf

	TrackerZones     *prometheus.GaugeVec   // labels: tf
	TrackerEvictions *prometheus.CounterVec // labels: tf

	AggregateDur    prometheus.Histogram
	AggregatedZones prometheus.Gauge
	StructureBreaks *prometheus.CounterVec // labels: tf, direction

	PublishDur      prometheus.Histogram
	PublishErrors   prometheus.Counter
	BreakerState    prometheus.Gauge // 0=closed, 1=open, 2=half-open
}

// NewMetrics builds all collectors and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		CandlesScanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zones_candles_scanned_total",
			Help: "Candles fed to the detectors (by timeframe)",
		}, []string{"tf"}),
		ZonesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zones_created_total",
			Help: "Zones emitted by a detector",
		}, []string{"tf", "kind", "direction"}),
		ZonesInvalidated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zones_invalidated_total",
			Help: "Zones invalidated during a lifecycle walk",
		}, []string{"tf", "kind"}),
		AnchorMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zones_anchor_misses_total",
			Help: "Swing and imbalance pairs with no opposite candle to anchor on",
		}, []string{"tf"}),
		DetectDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zones_detect_duration_seconds",
			Help:    "Detector run time per timeframe",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"tf"}),

		TrackerZones: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zones_tracker_zones",
			Help: "Zones held by the tracker (by timeframe)",
		}, []string{"tf"}),
		TrackerEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zones_tracker_evictions_total",
			Help: "Zones evicted when a timeframe exceeds its cap",
		}, []string{"tf"}),

		AggregateDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "zones_aggregate_duration_seconds",
			Help:    "Multi-timeframe aggregation latency",
			Buckets: []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
		AggregatedZones: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zones_aggregated",
			Help: "Aggregated zones in the last aggregation",
		}),
		StructureBreaks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zones_structure_breaks_total",
			Help: "Break of structure events detected",
		}, []string{"tf", "direction"}),

		PublishDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "zones_publish_duration_seconds",
			Help:    "Redis snapshot publish latency",
			Buckets: prometheus.DefBuckets,
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zones_publish_errors_total",
			Help: "Failed or rejected snapshot publishes",
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zones_redis_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
	}

	reg.MustRegister(
		m.CandlesScanned,
		m.ZonesCreated,
		m.ZonesInvalidated,
		m.AnchorMisses,
		m.DetectDur,
		m.TrackerZones,
		m.TrackerEvictions,
		m.AggregateDur,
		m.AggregatedZones,
		m.StructureBreaks,
		m.PublishDur,
		m.PublishErrors,
		m.BreakerState,
	)
	return m
}
