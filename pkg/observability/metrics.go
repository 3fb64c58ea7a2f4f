// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the trickle server.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DurationBuckets covers short error responses as well as long-running
// streams, from 5ms to 10 minutes.
var DurationBuckets = []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 30, 120, 600}

var (
	// RequestsTotal counts all HTTP requests by method and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trickle_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration records HTTP request duration in seconds, including
	// body transmission.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trickle_request_duration_seconds",
			Help:    "Request duration",
			Buckets: DurationBuckets,
		},
		[]string{"method"},
	)

	// TransmissionsActive tracks transmissions that have been subscribed and
	// not yet ended.
	TransmissionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trickle_transmissions_active",
			Help: "Active transmissions",
		},
	)

	// TransmitBytesTotal counts body bytes confirmed by the channel.
	TransmitBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trickle_transmit_bytes_total",
			Help: "Body bytes written",
		},
	)

	// TransmitWritesTotal counts confirmed chunk writes.
	TransmitWritesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trickle_transmit_writes_total",
			Help: "Chunk writes",
		},
	)

	// TransmitOutcomesTotal counts ended transmissions by outcome
	// (success, failure, cancelled).
	TransmitOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trickle_transmit_outcomes_total",
			Help: "Transmission outcomes",
		},
		[]string{"outcome"},
	)

	// TransmitWriteErrorsTotal counts failed channel writes by error class
	// (e.g. ECONNRESET, ETIMEDOUT).
	TransmitWriteErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trickle_transmit_write_errors_total",
			Help: "Failed channel writes",
		},
		[]string{"class"},
	)

	// WritabilityStallsTotal counts how often demand was held back because
	// the channel was above its high water mark.
	WritabilityStallsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trickle_transmit_writability_stalls_total",
			Help: "Demand held back by a full channel",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		TransmissionsActive,
		TransmitBytesTotal,
		TransmitWritesTotal,
		TransmitOutcomesTotal,
		TransmitWriteErrorsTotal,
		WritabilityStallsTotal,
	)
}

// InFlighter reports a number of running tasks.
type InFlighter interface {
	InFlight() int
}

// NewExecutorGauge returns a gauge reporting the tasks running on an
// execution controller. The caller registers it.
func NewExecutorGauge(c InFlighter) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "trickle_executor_inflight",
			Help: "Tasks running on the execution controller",
		},
		func() float64 { return float64(c.InFlight()) },
	)
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
