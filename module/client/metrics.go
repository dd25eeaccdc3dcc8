package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 客户端侧指标，命名 ppseq_client_{name}
type Metrics struct {
	Arrivals    *prometheus.CounterVec // result=delivered/buffered/dropped/late
	GapFills    *prometheus.CounterVec // result=issued/ok/failed/retried
	Skipped     prometheus.Counter
	SyncBatches *prometheus.CounterVec // result=ok/failed
	Pending     prometheus.Gauge
	Resends     prometheus.Counter
	AckResults  *prometheus.CounterVec // result=delivered/failed/stale/purged/rejected
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		Arrivals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ppseq", Subsystem: "client", Name: "arrivals_total",
			Help: "Incoming messages by reconcile decision.",
		}, []string{"result"}),
		GapFills: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ppseq", Subsystem: "client", Name: "gap_fills_total",
			Help: "Gap-fill range pulls.",
		}, []string{"result"}),
		Skipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ppseq", Subsystem: "client", Name: "skipped_seqs_total",
			Help: "Seqs inside a resolved span that had no message.",
		}),
		SyncBatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ppseq", Subsystem: "client", Name: "sync_batches_total",
			Help: "Offline sync batch pulls.",
		}, []string{"result"}),
		Pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "ppseq", Subsystem: "client", Name: "pending_acks",
			Help: "Outbound messages awaiting ack.",
		}),
		Resends: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ppseq", Subsystem: "client", Name: "resends_total",
			Help: "Timeout driven resends.",
		}),
		AckResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ppseq", Subsystem: "client", Name: "ack_results_total",
			Help: "Pending message terminal outcomes.",
		}, []string{"result"}),
	}
}
