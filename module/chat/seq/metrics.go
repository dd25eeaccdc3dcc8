package seq

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 发号与持久化指标，命名 ppseq_seq_{name}_{unit}
type Metrics struct {
	Allocated      *prometheus.CounterVec // action=nop/persist
	AllocErrors    prometheus.Counter
	AllocLatency   prometheus.Histogram
	Recovered      prometheus.Counter
	PersistResults *prometheus.CounterVec // result=ok/dropped
	PersistRetries prometheus.Counter
	CallerRuns     prometheus.Counter
}

// NewMetrics reg 为空时注册到独立 registry，多实例测试不会重复注册
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		Allocated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ppseq", Subsystem: "seq", Name: "allocated_total",
			Help: "Sequence numbers handed out, by script action.",
		}, []string{"action"}),
		AllocErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ppseq", Subsystem: "seq", Name: "alloc_errors_total",
			Help: "Allocation failures surfaced to callers.",
		}),
		AllocLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ppseq", Subsystem: "seq", Name: "alloc_latency_seconds",
			Help:    "Single allocation latency.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		Recovered: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ppseq", Subsystem: "seq", Name: "recovered_total",
			Help: "Shards reseeded from the durable high-water mark.",
		}),
		PersistResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ppseq", Subsystem: "seq", Name: "persist_total",
			Help: "Section persistence outcomes.",
		}, []string{"result"}),
		PersistRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ppseq", Subsystem: "seq", Name: "persist_retries_total",
			Help: "Section persistence retry attempts.",
		}),
		CallerRuns: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ppseq", Subsystem: "seq", Name: "persist_caller_runs_total",
			Help: "Writes executed on the caller goroutine because the pool was full.",
		}),
	}
}
