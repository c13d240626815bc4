// Package observability exposes the Prometheus metrics of the billing engine
// and the HTTP server that serves them alongside health checks.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransactionsProcessed counts gateway submissions by type and resulting status
	TransactionsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "transactions_processed_total",
		Help:      "Gateway submissions by transaction type and resulting status",
	}, []string{"type", "status"})

	// SubscriptionsYielded counts billing periods materialized into transactions
	SubscriptionsYielded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "subscription_periods_yielded_total",
		Help:      "Billing periods materialized into invoice/transaction pairs",
	})

	// BillingRunDuration observes end-to-end cron run latency
	BillingRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "billing",
		Name:      "run_duration_seconds",
		Help:      "End-to-end duration of a billing run",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	// BillingRuns counts cron-triggered billing runs by outcome
	BillingRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "runs_total",
		Help:      "Cron-triggered billing runs by outcome",
	}, []string{"outcome"})
)
