// Package metrics declares the Prometheus instruments shared across the
// service. Collectors are registered on the default registry; the serve
// command exposes them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksProcessed counts queue task executions by type and outcome
	// (ok, retry, expected, failed, dead).
	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stima",
		Subsystem: "queue",
		Name:      "tasks_processed_total",
		Help:      "Queue task executions by task type and outcome.",
	}, []string{"type", "outcome"})

	// QueueDepth tracks the number of tasks per queue state
	// (ready, delayed, dead).
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "stima",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Number of tasks per queue state.",
	}, []string{"state"})

	// ExternalRequests counts calls to the external APIs by target and
	// outcome (ok, error, rate_limited).
	ExternalRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stima",
		Subsystem: "external",
		Name:      "requests_total",
		Help:      "Calls to external APIs by target and outcome.",
	}, []string{"api", "outcome"})

	// NotificationsSent counts delivered notifications by affected state.
	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stima",
		Subsystem: "notify",
		Name:      "sent_total",
		Help:      "Notifications delivered by affected state.",
	}, []string{"affected_state"})

	// NotificationsSuppressed counts dispatch runs that ended with every
	// idempotency key already recorded.
	NotificationsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stima",
		Subsystem: "notify",
		Name:      "suppressed_total",
		Help:      "Dispatch runs suppressed by the idempotency record.",
	})

	// BulletinsIngested counts crawl results per bulletin URL by outcome
	// (stored, parse_failed, fetch_failed, store_failed).
	BulletinsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stima",
		Subsystem: "ingest",
		Name:      "bulletins_total",
		Help:      "Crawled bulletins by outcome.",
	}, []string{"outcome"})
)
