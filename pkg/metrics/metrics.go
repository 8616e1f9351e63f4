package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PingsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fdp_index_pings_received_total",
		Help: "The total number of incoming pings by outcome",
	}, []string{"outcome"})

	RetrievalsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fdp_index_metadata_retrievals_total",
		Help: "The total number of metadata retrievals by resulting entry state",
	}, []string{"state"})

	RetrievalDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fdp_index_metadata_retrieval_duration_seconds",
		Help:    "Time taken to fetch and parse repository metadata",
		Buckets: prometheus.DefBuckets,
	}, []string{"state"})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fdp_index_webhook_deliveries_total",
		Help: "The total number of webhook deliveries",
	}, []string{"event", "state"})

	WebhookDeliveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fdp_index_webhook_delivery_duration_seconds",
		Help:    "Time taken to deliver a webhook",
		Buckets: prometheus.DefBuckets,
	}, []string{"event"})

	EventsRecovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fdp_index_events_recovered_total",
		Help: "The total number of unfinished events handled by the recovery sweep",
	}, []string{"event_type", "status"})

	WorkerTasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fdp_index_worker_tasks_in_flight",
		Help: "Current number of submitted worker tasks not yet completed",
	})

	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fdp_index_rate_limit_exceeded_total",
		Help: "The total number of times rate limits were exceeded",
	}, []string{"limit_type"})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fdp_index_events_published_total",
		Help: "The total number of finished events published to the event feed",
	}, []string{"event_type", "status"})
)
