// Package metrics provides Prometheus instrumentation for deployproof.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	enabled     bool
	serviceName string
	register    sync.Once

	// HTTP metrics
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	// Verification metrics
	verificationTotal   *prometheus.CounterVec
	stageDuration       *prometheus.HistogramVec
	stageFailuresTotal  *prometheus.CounterVec
	verificationsActive prometheus.Gauge
)

// Init initializes the metrics system. Collectors are registered once per
// process; later calls only toggle recording.
func Init(enabledFlag bool, svcName string) {
	enabled = enabledFlag
	serviceName = svcName

	if !enabled {
		return
	}

	register.Do(func() {
		constLabels := prometheus.Labels{"service": serviceName}

		// HTTP request counter
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: constLabels,
			},
			[]string{"method", "path", "status"},
		)

		// HTTP request duration histogram
		httpDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: constLabels,
			},
			[]string{"method", "path"},
		)

		verificationTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "verification_total",
				Help:        "Total number of completed verifications by outcome",
				ConstLabels: constLabels,
			},
			[]string{"outcome"},
		)

		// Builds dominate; buckets reach past ten minutes
		stageDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "verification_stage_duration_seconds",
				Help:        "Duration of each verification stage in seconds",
				Buckets:     []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1200},
				ConstLabels: constLabels,
			},
			[]string{"stage"},
		)

		stageFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "verification_stage_failures_total",
				Help:        "Total number of infrastructure failures by stage",
				ConstLabels: constLabels,
			},
			[]string{"stage"},
		)

		verificationsActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "verifications_in_progress",
				Help:        "Number of verifications currently running",
				ConstLabels: constLabels,
			},
		)
	})
}

// Enabled reports whether metrics are being recorded.
func Enabled() bool {
	return enabled
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
