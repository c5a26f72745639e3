package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	upsertedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "healthstore",
		Subsystem: "storage",
		Name:      "records_upserted_total",
		Help:      "Number of records inserted or updated.",
	})
	deletedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "healthstore",
		Subsystem: "storage",
		Name:      "records_deleted_total",
		Help:      "Number of records deleted.",
	})
	persistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "healthstore",
		Subsystem: "storage",
		Name:      "last_record_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent record write.",
	})
	changePageRows = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "healthstore",
		Subsystem: "changelog",
		Name:      "change_page_rows",
		Help:      "Log entries consumed per change page.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 7),
	})
	aggregateDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "healthstore",
		Subsystem: "aggregation",
		Name:      "aggregate_duration_seconds",
		Help:      "Wall time spent computing an aggregation request.",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(upsertedCounter, deletedCounter, persistGauge, changePageRows, aggregateDuration)
}

// RecordsUpserted counts a committed upsert batch and moves the persistence
// watermark.
func RecordsUpserted(n int, ts time.Time) {
	if n <= 0 {
		return
	}
	upsertedCounter.Add(float64(n))
	if !ts.IsZero() {
		persistGauge.Set(float64(ts.Unix()))
	}
}

// RecordsDeleted counts a committed delete batch.
func RecordsDeleted(n int) {
	if n > 0 {
		deletedCounter.Add(float64(n))
	}
}

// ChangePageConsumed records the size of one change log page replay.
func ChangePageConsumed(rows int) {
	changePageRows.Observe(float64(rows))
}

// AggregateComputed records the latency of one aggregation request.
func AggregateComputed(d time.Duration) {
	aggregateDuration.Observe(d.Seconds())
}
