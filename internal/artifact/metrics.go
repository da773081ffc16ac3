package artifact

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// storeRequestsTotal counts store API requests by operation and code.
	storeRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelyard_store_requests_total",
		Help: "Total store API requests by operation and status code",
	}, []string{"op", "code"})

	// storeRequestDuration tracks store API latency by operation.
	storeRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "modelyard_store_request_duration_seconds",
		Help:    "Store API request duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	}, []string{"op"})

	// storePayloadBytes counts payload bytes moved through the API.
	storePayloadBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelyard_store_payload_bytes_total",
		Help: "Total payload bytes ingested and served",
	}, []string{"direction"})
)
