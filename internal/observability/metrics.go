package observability

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	commandsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rollctl",
			Subsystem: "session",
			Name:      "commands_sent_total",
			Help:      "Commands written to the dice service.",
		},
		[]string{"command"},
	)
	rollResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rollctl",
			Subsystem: "session",
			Name:      "roll_results_total",
			Help:      "Roll replies received, by whether they matched the result format.",
		},
		[]string{"matched"},
	)
	protocolViolations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rollctl",
			Subsystem: "session",
			Name:      "protocol_violations_total",
			Help:      "Inbound messages received in a state that expects none.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rollctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total ops HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rollctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Ops HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(commandsSent, rollResults, protocolViolations, httpRequests, httpDuration)
	})
}

// RecordCommandSent counts one outbound line; payload is the raw line.
func RecordCommandSent(payload string) {
	RegisterMetrics()
	commandsSent.WithLabelValues(strings.TrimSpace(payload)).Inc()
}

func RecordResult(matched bool) {
	RegisterMetrics()
	rollResults.WithLabelValues(strconv.FormatBool(matched)).Inc()
}

func RecordProtocolViolation() {
	RegisterMetrics()
	protocolViolations.Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
