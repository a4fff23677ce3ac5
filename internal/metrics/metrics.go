// Package metrics exposes render, queue, engine and cache metrics for
// Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maauso/reelsmith/internal/job"
	"github.com/maauso/reelsmith/internal/render"
)

const namespace = "reelsmith"

// Collector records metrics on its own registry. It implements
// job.Observer and asset.CacheObserver.
type Collector struct {
	registry *prometheus.Registry

	jobsStarted  *prometheus.CounterVec
	jobsRetried  *prometheus.CounterVec
	jobsFinished *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	jobsInFlight prometheus.Gauge

	engineRuns     *prometheus.CounterVec
	engineDuration prometheus.Histogram

	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheEvictions prometheus.Counter
}

// NewCollector creates a Collector. depth, when not nil, is sampled as the
// queue depth gauge on every scrape.
func NewCollector(depth func() int) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_attempts_total",
			Help:      "Total number of job attempts started.",
		}, []string{"type"}),
		jobsRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_retries_total",
			Help:      "Total number of failed attempts scheduled for retry.",
		}, []string{"type"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Total number of jobs that reached a terminal state.",
		}, []string{"type", "status", "kind"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of the final attempt of each job.",
			Buckets:   []float64{1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"type"}),
		jobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Current number of running job attempts.",
		}),
		engineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_runs_total",
			Help:      "Total number of ffmpeg invocations.",
		}, []string{"result"}),
		engineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_duration_seconds",
			Help:      "Wall-clock duration of ffmpeg invocations.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Background cache lookups served from disk.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Background cache lookups that downloaded the asset.",
		}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Background cache entries removed by pruning.",
		}),
	}

	c.registry.MustRegister(
		c.jobsStarted,
		c.jobsRetried,
		c.jobsFinished,
		c.jobDuration,
		c.jobsInFlight,
		c.engineRuns,
		c.engineDuration,
		c.cacheHits,
		c.cacheMisses,
		c.cacheEvictions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if depth != nil {
		c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Jobs waiting for a worker.",
		}, func() float64 { return float64(depth()) }))
	}
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// JobStarted implements job.Observer.
func (c *Collector) JobStarted(t job.Type) {
	c.jobsStarted.WithLabelValues(string(t)).Inc()
	c.jobsInFlight.Inc()
}

// JobRetried implements job.Observer.
func (c *Collector) JobRetried(t job.Type) {
	c.jobsRetried.WithLabelValues(string(t)).Inc()
	c.jobsInFlight.Dec()
}

// JobFinished implements job.Observer.
func (c *Collector) JobFinished(t job.Type, s job.Status, d time.Duration, err error) {
	kind := string(render.KindOf(err))
	if kind == "" {
		kind = "none"
	}
	c.jobsFinished.WithLabelValues(string(t), string(s), kind).Inc()
	c.jobDuration.WithLabelValues(string(t)).Observe(d.Seconds())
	c.jobsInFlight.Dec()
}

// EngineRun records one ffmpeg invocation. Its signature matches
// media.WithObserver.
func (c *Collector) EngineRun(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.engineRuns.WithLabelValues(result).Inc()
	c.engineDuration.Observe(d.Seconds())
}

// CacheHit implements asset.CacheObserver.
func (c *Collector) CacheHit() { c.cacheHits.Inc() }

// CacheMiss implements asset.CacheObserver.
func (c *Collector) CacheMiss() { c.cacheMisses.Inc() }

// CacheEvicted implements asset.CacheObserver.
func (c *Collector) CacheEvicted(n int) { c.cacheEvictions.Add(float64(n)) }
