package telemetry

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	EnqueueCounter   = prometheus.NewCounter(prometheus.CounterOpts{Name: "imagejobs_enqueued_total", Help: "Jobs submitted by producers"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "imagejobs_rate_limit_rejects_total", Help: "Uploads rejected by the rate limiter"})
	JobsClaimed      = prometheus.NewCounter(prometheus.CounterOpts{Name: "imagejobs_claimed_total", Help: "Jobs moved to processing"})
	JobsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "imagejobs_completed_total", Help: "Jobs transformed successfully"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "imagejobs_failed_total", Help: "Jobs whose transformation failed"})
	JobsMissing      = prometheus.NewCounter(prometheus.CounterOpts{Name: "imagejobs_missing_total", Help: "Popped ids with no readable record"})
	IterationErrors  = prometheus.NewCounter(prometheus.CounterOpts{Name: "imagejobs_iteration_errors_total", Help: "Worker iterations aborted by an unexpected error"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "imagejobs_queue_depth", Help: "Pending job ids waiting in the queue"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "imagejobs_inflight", Help: "Jobs currently being transformed"})
	TransformSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "imagejobs_transform_seconds",
		Help:    "Wall-clock time spent in the transformer",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			EnqueueCounter,
			RateLimitRejects,
			JobsClaimed,
			JobsCompleted,
			JobsFailed,
			JobsMissing,
			IterationErrors,
			QueueDepthGauge,
			InFlightGauge,
			TransformSeconds,
		)
	})
	return promhttp.Handler()
}

// SampleQueueDepth polls depth every interval and publishes it on
// QueueDepthGauge until ctx is done.
func SampleQueueDepth(ctx context.Context, depth func(context.Context) (int64, error), interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		n, err := depth(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("queue depth sample failed", slog.String("error", err.Error()))
		} else {
			QueueDepthGauge.Set(float64(n))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
