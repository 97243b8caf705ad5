package host

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeCommitted = "committed"
	outcomeAborted   = "aborted"
	outcomeFatal     = "fatal"
)

var (
	// InvocationsTotal counts top-level invocations by operation and outcome.
	InvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zaps",
			Name:      "host_invocations_total",
			Help:      "Total host invocations by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	// InvocationDuration observes invocation latency by operation.
	InvocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zaps",
			Name:      "host_invocation_duration_seconds",
			Help:      "Host invocation duration in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(
		InvocationsTotal,
		InvocationDuration,
	)
}

// observeInvocation starts the latency timer and returns a function that
// records the outcome.
func observeInvocation(op string) func(outcome string) {
	start := time.Now()
	return func(outcome string) {
		InvocationsTotal.WithLabelValues(op, outcome).Inc()
		InvocationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
