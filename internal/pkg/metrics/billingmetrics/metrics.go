package billingmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhooksReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_webhooks_received_total",
		Help: "Webhook deliveries by provider and ingestion outcome",
	}, []string{"provider", "outcome"})

	WebhooksRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_webhooks_rejected_total",
		Help: "Webhook deliveries rejected before persistence",
	}, []string{"provider", "reason"})

	EnqueueFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_enqueue_failures_total",
		Help: "Webhook events stored but not enqueued",
	}, []string{"provider"})

	EventsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_events_processed_total",
		Help: "Webhook events by provider, entity and processing result",
	}, []string{"provider", "entity", "result"})

	EventsReleasedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_events_released_total",
		Help: "Jobs released because another worker held a fresh claim",
	}, []string{"provider"})

	EventsRecoveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_events_recovered_total",
		Help: "Webhook events re-enqueued by retry or recovery",
	}, []string{"source"})

	NotificationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_notifications_sent_total",
		Help: "Lifecycle notifications dispatched",
	}, []string{"type"})

	ProcessingLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "billing_event_processing_latency_seconds",
		Help:    "Latency of processing a single webhook event",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

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
