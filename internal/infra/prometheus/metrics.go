package prometheus

import (
	client "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "powertrack"

// Registry holds every collector exported by the service.
var Registry = newRegistry()

func newRegistry() *client.Registry {
	r := client.NewRegistry()
	r.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

var factory = promauto.With(Registry)

var (
	ClicksTracked = factory.NewCounterVec(client.CounterOpts{
		Namespace: namespace,
		Name:      "clicks_tracked_total",
		Help:      "Clicks recorded, by source.",
	}, []string{"source"})

	ConversionsProcessed = factory.NewCounterVec(client.CounterOpts{
		Namespace: namespace,
		Name:      "conversions_processed_total",
		Help:      "Conversion webhooks handled, by outcome.",
	}, []string{"outcome"})

	ConversionTransitions = factory.NewCounterVec(client.CounterOpts{
		Namespace: namespace,
		Name:      "conversion_transitions_total",
		Help:      "Conversion lifecycle transitions, by target status.",
	}, []string{"status"})

	FraudAssessments = factory.NewCounterVec(client.CounterOpts{
		Namespace: namespace,
		Name:      "fraud_assessments_total",
		Help:      "Fraud assessments, by level (clean, flagged, soft, hard).",
	}, []string{"level"})

	NotificationDeliveries = factory.NewCounterVec(client.CounterOpts{
		Namespace: namespace,
		Name:      "notification_deliveries_total",
		Help:      "Outbound pixel and webhook deliveries, by kind and result.",
	}, []string{"kind", "result"})

	SessionsExpired = factory.NewCounter(client.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_expired_total",
		Help:      "Click sessions closed by the expiry sweep.",
	})

	RateLimited = factory.NewCounterVec(client.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_requests_total",
		Help:      "Requests rejected by the rate limiter, by route group.",
	}, []string{"group"})

	PipelineDuration = factory.NewHistogram(client.HistogramOpts{
		Namespace: namespace,
		Name:      "conversion_pipeline_seconds",
		Help:      "Latency of the conversion webhook pipeline.",
		Buckets:   client.DefBuckets,
	})
)
