package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flwrctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"client", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flwrctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"client", "method", "path", "status"},
	)
	rounds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flwrctl",
			Subsystem: "round",
			Name:      "total",
			Help:      "Rounds answered, by instruction and status code.",
		},
		[]string{"instruction", "code"},
	)
	roundDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flwrctl",
			Subsystem: "round",
			Name:      "duration_seconds",
			Help:      "Time from dispatch to response sent.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300, 1800},
		},
		[]string{"instruction"},
	)
	payloadBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flwrctl",
			Subsystem: "tensor",
			Name:      "payload_bytes_total",
			Help:      "Serialized tensor bytes exchanged with the server.",
		},
		[]string{"direction"},
	)
	oversize = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "flwrctl",
			Subsystem: "round",
			Name:      "oversize_total",
			Help:      "Responses replaced because they exceeded the message limit.",
		},
	)
	reconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "flwrctl",
			Subsystem: "session",
			Name:      "reconnects_total",
			Help:      "Server-requested reconnects.",
		},
	)
	sessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flwrctl",
			Subsystem: "session",
			Name:      "ended_total",
			Help:      "Sessions ended, by outcome.",
		},
		[]string{"outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, rounds, roundDuration, payloadBytes, oversize, reconnects, sessions)
	})
}

func RecordHTTPRequest(clientID, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(clientID, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(clientID, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordRound(instruction, code string, duration time.Duration) {
	RegisterMetrics()
	rounds.WithLabelValues(instruction, code).Inc()
	roundDuration.WithLabelValues(instruction).Observe(duration.Seconds())
}

// RecordPayload counts tensor bytes; direction is "in" or "out".
func RecordPayload(direction string, n int) {
	if n <= 0 {
		return
	}
	RegisterMetrics()
	payloadBytes.WithLabelValues(direction).Add(float64(n))
}

func RecordOversize() {
	RegisterMetrics()
	oversize.Inc()
}

func RecordReconnect() {
	RegisterMetrics()
	reconnects.Inc()
}

// RecordSessionEnd counts a finished session; outcome is "graceful", "aborted" or "failed".
func RecordSessionEnd(outcome string) {
	RegisterMetrics()
	sessions.WithLabelValues(outcome).Inc()
}
