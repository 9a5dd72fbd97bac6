package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "energymon_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	routedTotal   *prometheus.CounterVec
	routingErrors prometheus.Counter

	aggregationTotal   *prometheus.CounterVec
	aggregationLatency *prometheus.HistogramVec
	duplicateTotal     prometheus.Counter
	lateDropTotal      prometheus.Counter

	alertsEmitted      prometheus.Counter
	alertsSuppressed   *prometheus.CounterVec
	referenceLookupErr prometheus.Counter

	ringSize   prometheus.Gauge
	queueDepth *prometheus.GaugeVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		routedTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "routed_measurements_total",
				Help: "Total measurements routed, by shard",
			},
			[]string{"shard"},
		)
		routingErrors = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "routing_errors_total",
				Help: "Total measurements that could not be routed",
			},
		)

		aggregationTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "aggregation_total",
				Help: "Total bucket updates by result",
			},
			[]string{"result"},
		)
		aggregationLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "aggregation_latency_seconds",
				Help:    "Bucket update latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		duplicateTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "duplicate_measurements_total",
				Help: "Redelivered measurements skipped by idempotency key",
			},
		)
		lateDropTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "late_measurements_dropped_total",
				Help: "Measurements rejected by the finalization horizon",
			},
		)

		alertsEmitted = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_emitted_total",
				Help: "Overconsumption alerts emitted",
			},
		)
		alertsSuppressed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_suppressed_total",
				Help: "Alerts suppressed by reason",
			},
			[]string{"reason"},
		)
		referenceLookupErr = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "reference_lookup_errors_total",
				Help: "Device reference lookup failures",
			},
		)

		ringSize = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "hash_ring_entries",
				Help: "Number of virtual-node entries on the hash ring",
			},
		)
		queueDepth = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "shard_queue_depth",
				Help: "Buffered measurements per shard channel",
			},
			[]string{"shard"},
		)

		prometheus.MustRegister(
			routedTotal,
			routingErrors,
			aggregationTotal,
			aggregationLatency,
			duplicateTotal,
			lateDropTotal,
			alertsEmitted,
			alertsSuppressed,
			referenceLookupErr,
			ringSize,
			queueDepth,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// IncRouted increments the per-shard routed counter.
func IncRouted(shard string) {
	if shard == "" {
		shard = "unknown"
	}
	if routedTotal != nil {
		routedTotal.WithLabelValues(shard).Inc()
	}
}

// IncRoutingError counts a measurement that found no shard.
func IncRoutingError() {
	if routingErrors != nil {
		routingErrors.Inc()
	}
}

// ObserveAggregation records one bucket update result and latency.
func ObserveAggregation(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if aggregationTotal != nil {
		aggregationTotal.WithLabelValues(result).Inc()
	}
	if aggregationLatency != nil {
		aggregationLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncDuplicate counts a redelivered measurement skipped by its key.
func IncDuplicate() {
	if duplicateTotal != nil {
		duplicateTotal.Inc()
	}
}

// IncLateDrop counts a measurement rejected by the finalization horizon.
func IncLateDrop() {
	if lateDropTotal != nil {
		lateDropTotal.Inc()
	}
}

// IncAlertEmitted counts an emitted overconsumption alert.
func IncAlertEmitted() {
	if alertsEmitted != nil {
		alertsEmitted.Inc()
	}
}

// IncAlertSuppressed counts a suppressed alert by reason.
func IncAlertSuppressed(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if alertsSuppressed != nil {
		alertsSuppressed.WithLabelValues(reason).Inc()
	}
}

// IncReferenceLookupError counts a reference lookup failure.
func IncReferenceLookupError() {
	if referenceLookupErr != nil {
		referenceLookupErr.Inc()
	}
}

// SetRingSize publishes the ring entry count.
func SetRingSize(entries int) {
	if ringSize != nil {
		ringSize.Set(float64(entries))
	}
}

// SetQueueDepth publishes the buffered depth for a shard channel.
func SetQueueDepth(shard string, depth int) {
	if shard == "" {
		shard = "unknown"
	}
	if queueDepth != nil {
		queueDepth.WithLabelValues(shard).Set(float64(depth))
	}
}
