package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RefundsProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refunds_processed_total",
		Help: "Total number of refunds confirmed by the payment processor",
	})

	RefundsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refunds_failed_total",
		Help: "Total number of failed refund attempts",
	}, []string{"reason"})

	RefundAmountTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refund_amount_minor_units_total",
		Help: "Total refunded amount in minor units",
	})

	RefundRequestsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refund_requests_created_total",
		Help: "Total number of refund requests created",
	})

	RefundRequestsReviewedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refund_requests_reviewed_total",
		Help: "Total number of refund requests approved or rejected",
	}, []string{"decision"})

	GatewayCallLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stripe_refund_call_latency_seconds",
		Help:    "Latency of Stripe refund API calls",
		Buckets: prometheus.DefBuckets,
	})

	GatewayCallsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stripe_refund_calls_failed_total",
		Help: "Total number of Stripe refund API calls rejected by the processor",
	})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stripe_webhook_events_total",
		Help: "Total number of Stripe webhook events received",
	}, []string{"outcome"})

	ReconcileFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refund_reconcile_failures_total",
		Help: "Total number of post-refund order/transaction updates that failed and were deferred to the outbox",
	})

	OutboxSweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refund_outbox_sweeps_total",
		Help: "Total number of outbox entries processed by the reconciliation sweep",
	}, []string{"outcome"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
