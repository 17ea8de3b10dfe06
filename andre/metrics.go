package andre

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	gobreaker "github.com/sony/gobreaker/v2"
)

const metricsNamespace = "andre"

var (
	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "commands_total",
			Help:      "Commands executed, by command and result",
		},
		[]string{"command", "result"},
	)

	commandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "command_duration_seconds",
			Help:      "Command execution time. Interactive flows include time spent waiting for answers.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		},
		[]string{"command"},
	)

	remoteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "remote_requests_total",
			Help:      "Requests to MAL, VNDB and other remote APIs, by client and result",
		},
		[]string{"client", "result"},
	)

	remoteRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "remote_request_duration_seconds",
			Help:      "Remote API request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"client"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "circuit_breaker_state",
			Help:      "Remote API circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"client"},
	)

	cachedLists = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "cached_lists",
			Help:      "Number of MAL lists held in the list cache",
		},
		[]string{"entity"},
	)

	apiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "api_requests_total",
			Help:      "Admin API requests, by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	lockedUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "locked_users",
			Help:      "Users currently in an interactive command",
		},
	)
)

const (
	resultOK        = "ok"
	resultError     = "error"
	resultForbidden = "forbidden"
	resultNotFound  = "not_found"
	resultBreaker   = "circuit_open"
)

func recordCommand(command string, result string, took time.Duration) {
	commandsTotal.WithLabelValues(command, result).Inc()
	commandDuration.WithLabelValues(command).Observe(took.Seconds())
}

func recordRemoteRequest(client string, result string, took time.Duration) {
	remoteRequestsTotal.WithLabelValues(client, result).Inc()
	remoteRequestDuration.WithLabelValues(client).Observe(took.Seconds())
}

func recordBreakerState(client string, state gobreaker.State) {
	breakerState.WithLabelValues(client).Set(float64(state))
}
