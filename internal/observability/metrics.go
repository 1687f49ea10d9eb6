package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/apdurelay/internal/relay"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	relayTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apdurelay",
			Subsystem: "relay",
			Name:      "transitions_total",
			Help:      "Relay state transitions.",
		},
		[]string{"relay", "from", "to"},
	)
	relayFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apdurelay",
			Subsystem: "relay",
			Name:      "failures_total",
			Help:      "Abandoned relay cycles by cause.",
		},
		[]string{"relay", "cause"},
	)
	relayExchangeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "apdurelay",
			Subsystem: "relay",
			Name:      "exchange_duration_seconds",
			Help:      "Time from transceive issue to completion.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"relay"},
	)
	relayAPDUBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "apdurelay",
			Subsystem: "relay",
			Name:      "apdu_bytes",
			Help:      "APDU sizes relayed, by direction.",
			Buckets:   prometheus.ExponentialBuckets(4, 2, 10),
		},
		[]string{"relay", "direction"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apdurelay",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"relay", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "apdurelay",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"relay", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			relayTransitions,
			relayFailures,
			relayExchangeDuration,
			relayAPDUBytes,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordHTTPRequest(name, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(name, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(name, method, path, statusLabel).Observe(duration.Seconds())
}

// RelayMetrics records relay events under one relay label.
type RelayMetrics struct {
	name string
}

var _ relay.Observer = (*RelayMetrics)(nil)

func NewRelayMetrics(name string) *RelayMetrics {
	RegisterMetrics()
	return &RelayMetrics{name: name}
}

func (m *RelayMetrics) Transition(from, to relay.State) {
	relayTransitions.WithLabelValues(m.name, from.String(), to.String()).Inc()
}

func (m *RelayMetrics) Failure(cause relay.Cause) {
	relayFailures.WithLabelValues(m.name, string(cause)).Inc()
}

func (m *RelayMetrics) Exchange(cmdLen, rspLen int, elapsed time.Duration) {
	relayExchangeDuration.WithLabelValues(m.name).Observe(elapsed.Seconds())
	relayAPDUBytes.WithLabelValues(m.name, "command").Observe(float64(cmdLen))
	relayAPDUBytes.WithLabelValues(m.name, "response").Observe(float64(rspLen))
}
