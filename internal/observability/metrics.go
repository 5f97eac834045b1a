package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facegate",
		Name:      "extraction_jobs_started_total",
		Help:      "Total number of extraction jobs created",
	}, []string{"file_type"})

	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facegate",
		Name:      "extraction_jobs_finished_total",
		Help:      "Total number of extraction jobs that reached a terminal status",
	}, []string{"status", "reason"})

	FacesExtracted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "facegate",
		Name:      "faces_extracted_total",
		Help:      "Total number of face crops persisted by extraction jobs",
	})

	ProviderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facegate",
		Name:      "provider_duration_seconds",
		Help:      "Duration of face feature provider calls",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"file_type"})

	LabelProposals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facegate",
		Name:      "label_proposals_total",
		Help:      "Total number of label proposals",
	}, []string{"target", "privileged"})

	Promotions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facegate",
		Name:      "promotions_total",
		Help:      "Total number of faces promoted or verified",
	}, []string{"path", "status"})

	Recognitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facegate",
		Name:      "recognitions_total",
		Help:      "Total number of recognition requests by outcome",
	}, []string{"outcome"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facegate",
		Name:      "extraction_queue_depth",
		Help:      "Number of pending extraction tasks in queue",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facegate",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facegate",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
