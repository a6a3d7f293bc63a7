// Package metrics provides Prometheus metrics for OpsWatch.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "opswatch"
)

// Evaluator metrics
var (
	// SamplesEvaluated counts metric samples run through the rule evaluator.
	SamplesEvaluated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "samples_evaluated_total",
			Help:      "Total metric samples evaluated against alert rules",
		},
	)

	// AlertsFired counts fired alerts by severity.
	AlertsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "alerts_fired_total",
			Help:      "Total alerts fired",
		},
		[]string{"severity"},
	)

	// AlertsSuppressed counts firings suppressed by cooldown.
	AlertsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "alerts_suppressed_total",
			Help:      "Total alert firings suppressed by cooldown",
		},
	)
)

// Notification metrics
var (
	// NotificationsTotal counts channel send attempts by type and outcome.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "sends_total",
			Help:      "Total notification channel send attempts",
		},
		[]string{"channel_type", "outcome"},
	)

	// NotificationsSkipped counts dispatches skipped because the channel was
	// missing, disabled, or belonged to another organization.
	NotificationsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "skipped_total",
			Help:      "Total notification dispatches skipped",
		},
	)
)

// Scheduler metrics
var (
	// ExecutionsTotal counts executions entering a terminal state.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "executions_total",
			Help:      "Total script executions by terminal status",
		},
		[]string{"status"},
	)

	// ExecutionsRunning tracks executions currently in the running state.
	ExecutionsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "executions_running",
			Help:      "Script executions currently running",
		},
	)

	// QueueDepth tracks executions waiting in the queue.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "queue_depth",
			Help:      "Script executions waiting in the queue",
		},
	)
)

// Realtime metrics
var (
	// WSConnections tracks active websocket connections.
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connections_active",
			Help:      "Active websocket connections",
		},
	)

	// WSMessagesSent counts outbound websocket messages by type.
	WSMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "messages_sent_total",
			Help:      "Total outbound websocket messages",
		},
		[]string{"type"},
	)

	// WSClientsDropped counts connections dropped for full send buffers or
	// write failures.
	WSClientsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "clients_dropped_total",
			Help:      "Total websocket clients dropped by the server",
		},
	)
)
