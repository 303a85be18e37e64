// Package metrics defines the Prometheus instruments exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cycle metrics
var (
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketwatch_cycles_total",
			Help: "Total number of reconciliation cycles run",
		},
		[]string{"result"},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ticketwatch_cycle_duration_seconds",
			Help:    "Duration of reconciliation cycles in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Ticket metrics
var (
	TicketsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketwatch_tickets_created_total",
			Help: "Total number of ticket rows created",
		},
	)

	TicketsUpdated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketwatch_tickets_updated_total",
			Help: "Total number of ticket rows updated in place",
		},
	)

	ThreadsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketwatch_threads_skipped_total",
			Help: "Total number of threads skipped during reconciliation",
		},
		[]string{"reason"},
	)
)

// Auto-close metrics
var (
	TicketsAutoClosed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketwatch_tickets_autoclosed_total",
			Help: "Total number of stale tickets closed with a terminal status",
		},
	)

	TicketsAutoDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketwatch_tickets_autodeleted_total",
			Help: "Total number of stale tickets deleted and trashed",
		},
	)
)

// Provider metrics
var (
	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketwatch_provider_errors_total",
			Help: "Total number of failed mailbox or sheet provider calls",
		},
		[]string{"provider"},
	)

	AutoRepliesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketwatch_autoreplies_sent_total",
			Help: "Total number of acknowledgement replies sent",
		},
	)
)
