package msgsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Sent      *prometheus.CounterVec // type=private/group
	Resent    prometheus.Counter
	Stored    prometheus.Counter
	Pushed    *prometheus.CounterVec // result=online/offline
	Pulled    prometheus.Counter
	AckedMsgs prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		Sent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ppseq", Subsystem: "msg", Name: "sent_total",
			Help: "Messages accepted by the send service.",
		}, []string{"type"}),
		Resent: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ppseq", Subsystem: "msg", Name: "resent_total",
			Help: "Resends answered from the ack cache without a new seq.",
		}),
		Stored: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ppseq", Subsystem: "msg", Name: "stored_total",
			Help: "Stream messages written by the deliverer.",
		}),
		Pushed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ppseq", Subsystem: "msg", Name: "pushed_total",
			Help: "Push attempts to receivers, by outcome.",
		}, []string{"result"}),
		Pulled: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ppseq", Subsystem: "sync", Name: "pulled_total",
			Help: "Messages returned by pull and range requests.",
		}),
		AckedMsgs: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ppseq", Subsystem: "sync", Name: "acked_total",
			Help: "Message ids marked delivered through batch acks.",
		}),
	}
}
