// Package metrics holds the Prometheus instrumentation of the scraper service.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jmylchreest/refyne-api/scraper/internal/browser"
	"github.com/jmylchreest/refyne-api/scraper/internal/queue"
)

const namespace = "scraper"

// Metrics records scrape activity. A nil *Metrics records nothing.
type Metrics struct {
	factory    promauto.Factory
	attempts   *prometheus.CounterVec
	executions *prometheus.CounterVec
	challenges *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// New registers the scraper metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		factory: f,
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Scrape attempts by outcome.",
		}, []string{"scraper", "outcome"}),
		executions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Completed scrape executions, after retries.",
		}, []string{"scraper", "success"}),
		challenges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "challenges_total",
			Help:      "Detected reCAPTCHA challenges by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall clock of a scrape execution including retries and backoff.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 80, 160, 320, 640},
		}, []string{"scraper"}),
	}
}

// Attempt counts one attempt. outcome is "success", "failure" or "timeout".
func (m *Metrics) Attempt(scraper, outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(scraper, outcome).Inc()
}

// Execution records a finished execution.
func (m *Metrics) Execution(scraper string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(scraper, strconv.FormatBool(success)).Inc()
	m.duration.WithLabelValues(scraper).Observe(d.Seconds())
}

// Challenge counts a resolved or failed challenge.
func (m *Metrics) Challenge(strategy, outcome string) {
	if m == nil {
		return
	}
	if strategy == "" {
		strategy = "none"
	}
	m.challenges.WithLabelValues(strategy, outcome).Inc()
}

// PoolStatser is the browser pool.
type PoolStatser interface {
	Stats() browser.PoolStats
}

// QueueStatser is the request queue.
type QueueStatser interface {
	Stats() queue.Stats
}

// WatchPool exports the pool's session counts as gauges read at scrape time.
func (m *Metrics) WatchPool(p PoolStatser) {
	if m == nil {
		return
	}
	gauge := func(state string, read func(browser.PoolStats) int) {
		m.factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "pool_sessions",
			Help:        "Browser sessions in the resource pool.",
			ConstLabels: prometheus.Labels{"state": state},
		}, func() float64 { return float64(read(p.Stats())) })
	}
	gauge("busy", func(s browser.PoolStats) int { return s.Busy })
	gauge("idle", func(s browser.PoolStats) int { return s.Idle })
	gauge("launching", func(s browser.PoolStats) int { return s.PendingLaunches })
}

// WatchQueue exports the queue's pending and processing counts as gauges.
func (m *Metrics) WatchQueue(q QueueStatser) {
	if m == nil {
		return
	}
	gauge := func(state string, read func(queue.Stats) int) {
		m.factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "queue_items",
			Help:        "Scrape requests in the request queue.",
			ConstLabels: prometheus.Labels{"state": state},
		}, func() float64 { return float64(read(q.Stats())) })
	}
	gauge("pending", func(s queue.Stats) int { return s.Pending })
	gauge("processing", func(s queue.Stats) int { return s.Processing })
}
