package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	orchestratorWorker = "orchestrator_worker"

	// Queue metrics
	messagesHandledTotal = "messages_handled_total"

	// Job metrics
	pagesCompletedTotal  = "pages_completed_total"
	jobsCompletedTotal   = "jobs_completed_total"
	pagesDispatchedTotal = "pages_dispatched_total"

	// Labels
	queueLabel   = "queue"
	outcomeLabel = "outcome"
	statusLabel  = "status"
)

var messagesHandledLabels = []string{
	queueLabel,
	outcomeLabel,
}

var statusLabels = []string{
	statusLabel,
}

/**
* Metrics definition
**/
var messagesHandledTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: orchestratorWorker,
		Name:      messagesHandledTotal,
		Help:      "number of handled queue messages by queue and outcome",
	},
	messagesHandledLabels,
)

var pagesCompletedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: orchestratorWorker,
		Name:      pagesCompletedTotal,
		Help:      "number of pages that reached a terminal status",
	},
	statusLabels,
)

var jobsCompletedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: orchestratorWorker,
		Name:      jobsCompletedTotal,
		Help:      "number of jobs that reached a terminal status",
	},
	statusLabels,
)

var pagesDispatchedTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: orchestratorWorker,
		Name:      pagesDispatchedTotal,
		Help:      "number of task messages sent to the worker queue",
	},
)

func IncreaseMessagesHandledMetric(queue, outcome string) {
	labels := prometheus.Labels{
		queueLabel:   queue,
		outcomeLabel: outcome,
	}
	messagesHandledTotalMetric.With(labels).Inc()
}

func IncreasePagesCompletedMetric(status string) {
	pagesCompletedTotalMetric.With(prometheus.Labels{statusLabel: status}).Inc()
}

func IncreaseJobsCompletedMetric(status string) {
	jobsCompletedTotalMetric.With(prometheus.Labels{statusLabel: status}).Inc()
}

func AddPagesDispatchedMetric(count int) {
	pagesDispatchedTotalMetric.Add(float64(count))
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(messagesHandledTotalMetric)
	prometheus.MustRegister(pagesCompletedTotalMetric)
	prometheus.MustRegister(jobsCompletedTotalMetric)
	prometheus.MustRegister(pagesDispatchedTotalMetric)
}
