// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlRunsTotal             *prometheus.CounterVec
	fetchAttemptsTotal         *prometheus.CounterVec
	ownedShare                 prometheus.Histogram
	rateLimitDelaySeconds      prometheus.Histogram
	batchPassesTotal           *prometheus.CounterVec
	batchPassDurationSeconds   prometheus.Histogram
	schedulerRunning           prometheus.Gauge
	publishFailuresTotal       prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serp_crawl_runs_total",
				Help: "Total number of entity crawl runs, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serp_fetch_attempts_total",
				Help: "Total number of browser search attempts, labeled by result.",
			},
			[]string{"result"},
		)

		ownedShare = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "serp_owned_result_share",
				Help:    "Share of owned results per successful crawl run.",
				Buckets: []float64{0, 0.1, 0.2, 0.3, 0.5, 0.7, 0.9, 1},
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "serp_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		batchPassesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serp_batch_passes_total",
				Help: "Total number of scheduled batch passes, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		batchPassDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "serp_batch_pass_duration_seconds",
				Help:    "Histogram of batch pass durations.",
				Buckets: []float64{10, 30, 60, 120, 300, 600, 1800, 3600},
			},
		)

		schedulerRunning = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "serp_scheduler_running",
				Help: "1 when periodic batch passes are scheduled.",
			},
		)

		publishFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "serp_publish_failures_total",
				Help: "Total number of crawl run notifications that failed to publish.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCrawlRun counts one finished entity crawl.
func ObserveCrawlRun(outcome string) {
	Init()
	crawlRunsTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetchAttempt counts one browser search attempt.
func ObserveFetchAttempt(result string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(result).Inc()
}

// ObserveOwnedShare records owned/total for a successful run.
func ObserveOwnedShare(owned, total int) {
	if total <= 0 {
		return
	}
	Init()
	ownedShare.Observe(float64(owned) / float64(total))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	rateLimitDelaySeconds.Observe(duration.Seconds())
}

// ObserveBatchPass records a completed or skipped batch pass.
func ObserveBatchPass(outcome string, duration time.Duration) {
	Init()
	batchPassesTotal.WithLabelValues(outcome).Inc()
	if duration > 0 {
		batchPassDurationSeconds.Observe(duration.Seconds())
	}
}

// SetSchedulerRunning flips the scheduler gauge.
func SetSchedulerRunning(running bool) {
	Init()
	if running {
		schedulerRunning.Set(1)
		return
	}
	schedulerRunning.Set(0)
}

// ObservePublishFailure counts a failed notification.
func ObservePublishFailure() {
	Init()
	publishFailuresTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
