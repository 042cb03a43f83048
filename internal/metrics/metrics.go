package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	TurnsTotal       prometheus.Counter
	GateDenied       prometheus.Counter
	ToolCalls        prometheus.Counter
	UpstreamFailures prometheus.Counter
	EnqueuedJobs     prometheus.Counter
	ProcessedJobs    prometheus.Counter
	FailedJobs       prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			TurnsTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "sportmate",
				Name:      "chat_turns_total",
				Help:      "Total chat turns accepted by the api",
			}),
			GateDenied: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "sportmate",
				Name:      "gate_denied_total",
				Help:      "Total chat turns rejected by the usage gate",
			}),
			ToolCalls: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "sportmate",
				Name:      "tool_calls_total",
				Help:      "Total tool invocations requested by the model",
			}),
			UpstreamFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "sportmate",
				Name:      "bridge_upstream_failures_total",
				Help:      "Total bridge turns failed on the history fetch",
			}),
			EnqueuedJobs: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "sportmate",
				Name:      "queue_enqueued_total",
				Help:      "Total exchange jobs enqueued to redis stream",
			}),
			ProcessedJobs: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "sportmate",
				Name:      "queue_processed_total",
				Help:      "Total exchange jobs successfully persisted",
			}),
			FailedJobs: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "sportmate",
				Name:      "queue_failed_total",
				Help:      "Total exchange jobs failed during processing",
			}),
		}
		prometheus.MustRegister(
			global.TurnsTotal,
			global.GateDenied,
			global.ToolCalls,
			global.UpstreamFailures,
			global.EnqueuedJobs,
			global.ProcessedJobs,
			global.FailedJobs,
		)
	})
	return global
}
