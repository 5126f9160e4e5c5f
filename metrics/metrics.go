// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "timesheets"

var (
	// Transitions counts workflow actions by outcome ("ok" or the error code).
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transitions_total",
		Help:      "Timesheet workflow actions by action and outcome.",
	}, []string{"action", "outcome"})

	OutboxTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_tasks_total",
		Help:      "Outbox task executions by kind and outcome.",
	}, []string{"kind", "outcome"})

	PushFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "live_push_failures_total",
		Help:      "Live push publish failures by transport.",
	}, []string{"transport"})

	NotificationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_created_total",
		Help:      "Notifications inserted or refreshed, by type.",
	}, []string{"type", "result"})
)
