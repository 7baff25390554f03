package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesDecoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "companion",
			Subsystem: "codec",
			Name:      "frames_decoded_total",
			Help:      "Companion frames decoded, by message type.",
		},
		[]string{"type"},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "companion",
			Subsystem: "codec",
			Name:      "frames_dropped_total",
			Help:      "Companion frames dropped before handling, by reason.",
		},
		[]string{"reason"},
	)
	handshakeResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "companion",
			Subsystem: "session",
			Name:      "handshake_results_total",
			Help:      "ServerHello gate decisions.",
		},
		[]string{"result"},
	)
	signatureChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "companion",
			Subsystem: "auth",
			Name:      "signature_checks_total",
			Help:      "ServerHello signature checks, by policy and outcome.",
		},
		[]string{"policy", "outcome"},
	)
	attestationOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "companion",
			Subsystem: "attestation",
			Name:      "loads_total",
			Help:      "Build attestation loads, by outcome.",
		},
		[]string{"outcome"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "companion",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "companion",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesDecoded,
			framesDropped,
			handshakeResults,
			signatureChecks,
			attestationOutcomes,
			httpRequests,
			httpDuration,
		)
	})
}

// Recorder forwards domain events to the process-wide Prometheus counters.
// The zero value is ready to use.
type Recorder struct{}

func (Recorder) RecordFrameDecoded(messageType string) {
	RegisterMetrics()
	framesDecoded.WithLabelValues(messageType).Inc()
}

func (Recorder) RecordFrameDropped(reason string) {
	RegisterMetrics()
	framesDropped.WithLabelValues(reason).Inc()
}

func (Recorder) RecordHandshake(result string) {
	RegisterMetrics()
	handshakeResults.WithLabelValues(result).Inc()
}

func (Recorder) RecordSignatureCheck(policy, outcome string) {
	RegisterMetrics()
	signatureChecks.WithLabelValues(policy, outcome).Inc()
}

func (Recorder) RecordAttestation(outcome string) {
	RegisterMetrics()
	attestationOutcomes.WithLabelValues(outcome).Inc()
}

func RecordHTTPRequest(service, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(service, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(service, method, path, statusLabel).Observe(duration.Seconds())
}
