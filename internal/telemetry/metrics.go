package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	Claims           = prometheus.NewCounter(prometheus.CounterOpts{Name: "transcode_claims_total", Help: "Jobs claimed by this worker"})
	ClaimRetries     = prometheus.NewCounter(prometheus.CounterOpts{Name: "transcode_claim_retries_total", Help: "Claim attempts that had to be retried"})
	AcquireExhausted = prometheus.NewCounter(prometheus.CounterOpts{Name: "transcode_claim_exhausted_total", Help: "Acquisitions that ran out of attempts"})
	JobsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "transcode_jobs_completed_total", Help: "Jobs transcoded and uploaded successfully"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "transcode_jobs_failed_total", Help: "Jobs that failed and were released for retry"})
	SignalReleases   = prometheus.NewCounter(prometheus.CounterOpts{Name: "transcode_signal_releases_total", Help: "Claims released by the termination handler"})
	BacklogGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "transcode_backlog_size", Help: "Videos enumerated at worker start"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "transcode_inflight", Help: "Jobs currently claimed by this worker"})
	JobDuration      = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "transcode_job_duration_seconds",
		Help:    "Wall time per job from claim to resolution",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"outcome"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			Claims,
			ClaimRetries,
			AcquireExhausted,
			JobsCompleted,
			JobsFailed,
			SignalReleases,
			BacklogGauge,
			InFlightGauge,
			JobDuration,
		)
	})
	return promhttp.Handler()
}
