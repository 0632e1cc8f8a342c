package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logwarden",
			Name:      "executions_total",
			Help:      "Execution attempts handled by the gateway, partitioned by status.",
		},
		[]string{"status"},
	)

	executionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "logwarden",
			Name:      "execution_seconds",
			Help:      "Wall time of spawned commands in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15, 30},
		},
	)

	approvalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logwarden",
			Name:      "approvals_total",
			Help:      "Approval requests reaching a terminal state, partitioned by status.",
		},
		[]string{"status"},
	)

	approvalWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "logwarden",
			Name:      "approval_wait_seconds",
			Help:      "Time between submitting an approval request and its decision.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 180, 240, 300, 600},
		},
	)

	entriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logwarden",
			Name:      "entries_total",
			Help:      "Log entries processed by the orchestrator, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	correlationWindowSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "logwarden",
			Name:      "correlation_window_size",
			Help:      "Records currently held in the correlation window.",
		},
	)
)

// Register attaches logwarden collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		executionsTotal,
		executionDurationSeconds,
		approvalsTotal,
		approvalWaitSeconds,
		entriesTotal,
		correlationWindowSize,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveExecution records one gateway attempt. Duration is only observed
// for attempts that spawned a process.
func ObserveExecution(status string, duration time.Duration, spawned bool) {
	executionsTotal.WithLabelValues(status).Inc()
	if !spawned {
		return
	}
	if duration < 0 {
		duration = 0
	}
	executionDurationSeconds.Observe(duration.Seconds())
}

func ObserveApproval(status string, waited time.Duration) {
	approvalsTotal.WithLabelValues(status).Inc()
	if waited < 0 {
		waited = 0
	}
	approvalWaitSeconds.Observe(waited.Seconds())
}

func ObserveEntry(outcome string) {
	entriesTotal.WithLabelValues(outcome).Inc()
}

func SetWindowSize(n int) {
	correlationWindowSize.Set(float64(n))
}
