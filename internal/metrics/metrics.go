// Package metrics registers the engine/worker gauges and counters exposed
// on the process's /metrics endpoint, adapted from the gauge/counter
// registrations around cmd/kcn/main.go and chaindata_fetcher.go in the
// teacher codebase.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	rmetrics "github.com/rcrowley/go-metrics"
)

// Registry mirrors the teacher's use of a package-level rcrowley registry
// for in-process gauges alongside the Prometheus collectors served over
// HTTP; the two coexist because they answer different questions: rcrowley
// gauges are cheap to read from Go code (e.g. in tests), Prometheus
// collectors are what an operator's dashboard actually scrapes.
var Registry = rmetrics.NewRegistry()

var (
	JobsClaimedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reconcore",
		Subsystem: "reconciliation",
		Name:      "jobs_claimed_total",
		Help:      "Number of reconciliation jobs claimed by a worker, by claim kind (pending, async_poll).",
	}, []string{"kind"})

	JobsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reconcore",
		Subsystem: "reconciliation",
		Name:      "jobs_completed_total",
		Help:      "Number of reconciliation jobs that reached a terminal state, by status.",
	}, []string{"status"})

	TransactionsAddedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reconcore",
		Subsystem: "reconciliation",
		Name:      "transactions_added_total",
		Help:      "Number of transactions inserted by the reconciliation engine.",
	})

	WorkflowTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reconcore",
		Subsystem: "workflow",
		Name:      "transitions_total",
		Help:      "Number of workflow state transitions, by from_state and to_state.",
	}, []string{"from_state", "to_state"})

	WorkflowConcurrentModificationTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reconcore",
		Subsystem: "workflow",
		Name:      "concurrent_modification_total",
		Help:      "Number of optimistic-lock conflicts observed on workflow updates.",
	})

	ClassificationAttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reconcore",
		Subsystem: "classification",
		Name:      "attempts_total",
		Help:      "Number of token classification attempts.",
	})

	ClassificationFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reconcore",
		Subsystem: "classification",
		Name:      "failures_total",
		Help:      "Number of token classification attempts that errored.",
	})

	ClassificationBacklog = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reconcore",
		Subsystem: "classification",
		Name:      "backlog",
		Help:      "Tokens currently eligible for classification, sampled each worker tick.",
	})
)

func init() {
	prometheus.MustRegister(
		JobsClaimedTotal,
		JobsCompletedTotal,
		TransactionsAddedTotal,
		WorkflowTransitionsTotal,
		WorkflowConcurrentModificationTotal,
		ClassificationAttemptsTotal,
		ClassificationFailuresTotal,
		ClassificationBacklog,
	)
}

// Handler returns the HTTP handler cmd/reconcore mounts at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
