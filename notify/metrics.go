package notify

import (
	"github.com/grafana/dskit/instrument"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "alert_router"

// Metrics are the gateway-wide delivery counters. The history subset is
// handed to the delivery historian when one is configured.
type Metrics struct {
	Registerer prometheus.Registerer

	EnvelopesTotal        *prometheus.CounterVec
	AlertsNormalizedTotal prometheus.Counter
	DedupHitsTotal        prometheus.Counter
	SendsTotal            *prometheus.CounterVec
	ImageRendersTotal     *prometheus.CounterVec

	HistoryWritesTotal   prometheus.Counter
	HistoryWritesFailed  prometheus.Counter
	HistoryBytesWritten  prometheus.Counter
	HistoryWriteDuration *instrument.HistogramCollector
}

func NewMetrics(r prometheus.Registerer) *Metrics {
	return &Metrics{
		Registerer: r,
		EnvelopesTotal: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_total",
			Help:      "Number of inbound webhook envelopes by outcome.",
		}, []string{"outcome"}),
		AlertsNormalizedTotal: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_normalized_total",
			Help:      "Number of canonical alerts produced by the normalizer.",
		}),
		DedupHitsTotal: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_hits_total",
			Help:      "Number of alerts suppressed by the build-system dedup window.",
		}),
		SendsTotal: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Number of attempted channel sends by channel and outcome.",
		}, []string{"channel", "outcome"}),
		ImageRendersTotal: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_renders_total",
			Help:      "Number of trend chart renders by outcome.",
		}, []string{"outcome"}),
		HistoryWritesTotal: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "writes_total",
			Help:      "Number of delivery history batches written to the sink.",
		}),
		HistoryWritesFailed: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "writes_failed_total",
			Help:      "Number of delivery history batches that failed to write.",
		}),
		HistoryBytesWritten: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "bytes_written_total",
			Help:      "Number of bytes pushed to the delivery history sink.",
		}),
		HistoryWriteDuration: instrument.NewHistogramCollector(promauto.With(r).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "write_duration_seconds",
			Help:      "Time spent writing to the delivery history sink.",
			Buckets:   instrument.DefBuckets,
		}, instrument.HistogramCollectorBuckets)),
	}
}
