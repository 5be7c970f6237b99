package pgaudit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// writerStats are the batch writer's observable stats. One set is
// registered per
// Logger instance against cfg.Metrics, following the same promauto
// pattern holomush's audit logger uses for its abac_audit_* metrics.
type writerStats struct {
	queueSize     prometheus.Gauge
	inFlight      prometheus.Gauge
	flushDuration prometheus.Histogram
	dropped       prometheus.Counter
	flushErrors   prometheus.Counter
}

func newWriterStats(reg prometheus.Registerer) *writerStats {
	factory := promauto.With(reg)
	return &writerStats{
		queueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pgaudit_queue_size",
			Help: "Number of audit records currently queued awaiting flush.",
		}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pgaudit_in_flight",
			Help: "1 while a batch flush is running, 0 otherwise.",
		}),
		flushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pgaudit_flush_duration_seconds",
			Help:    "Duration of audit log batch flushes.",
			Buckets: prometheus.DefBuckets,
		}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "pgaudit_dropped_total",
			Help: "Audit records dropped by queue overflow or a lenient-mode flush failure.",
		}),
		flushErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "pgaudit_flush_errors_total",
			Help: "Batch flushes that failed to persist to the audit table.",
		}),
	}
}
