package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/glencoesoftware/omero-ms-pixel-buffer/pixbuf"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "pixelbuffer"

// Metrics collects tile job and response statistics in its own registry.
type Metrics struct {
	registry *prometheus.Registry

	jobs        *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	tileBytes   prometheus.Histogram
	responses   *prometheus.CounterVec
	overloaded  prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tile_jobs_total",
			Help:      "Tile jobs processed, by outcome.",
		}, []string{"outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "tile_job_duration_seconds",
			Help:      "Time spent processing tile jobs, by output format.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{"format"}),
		tileBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "tile_bytes",
			Help:      "Size of encoded tiles.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 10),
		}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tile_responses_total",
			Help:      "Tile responses sent, by HTTP status code.",
		}, []string{"code"}),
		overloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tile_jobs_rejected_total",
			Help:      "Tile jobs rejected because the queue was full.",
		}),
	}
	m.registry.MustRegister(m.jobs, m.jobDuration, m.tileBytes, m.responses, m.overloaded)
	return m
}

// WatchDispatcher exports the dispatcher's queue and pool sizes and counts its
// rejected submissions.
func (m *Metrics) WatchDispatcher(d *Dispatcher) {
	gauge := func(name, help string, f func() float64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		}, f)
	}
	m.registry.MustRegister(
		gauge("queue_depth", "Tile jobs waiting for a worker.", func() float64 { return float64(d.QueueDepth()) }),
		gauge("queue_capacity", "Maximum number of tile jobs waiting for a worker.", func() float64 { return float64(d.QueueCapacity()) }),
		gauge("workers", "Size of the tile worker pool.", func() float64 { return float64(d.Workers()) }),
		gauge("jobs_running", "Tile jobs being processed.", func() float64 { return float64(d.Running()) }),
	)
	d.OnOverload(m.overloaded.Inc)
}

// ObserveResponse counts a response sent with the given status code.
func (m *Metrics) ObserveResponse(status int) {
	m.responses.WithLabelValues(strconv.Itoa(status)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WithMetrics records the duration and outcome of every job run by next.
func WithMetrics(next Processor, m *Metrics) Processor {
	return ProcessorFunc(func(ctx context.Context, addr pixbuf.TileAddress, cred pixbuf.Credential) Result {
		start := time.Now()
		res := next.Process(ctx, addr, cred)
		format := string(addr.Format)
		if format == "" {
			format = string(pixbuf.FormatRaw)
		}
		m.jobDuration.WithLabelValues(format).Observe(time.Since(start).Seconds())
		if res.Err != nil {
			m.jobs.WithLabelValues(res.Err.Kind.String()).Inc()
		} else {
			m.jobs.WithLabelValues("ok").Inc()
			m.tileBytes.Observe(float64(len(res.Body)))
		}
		return res
	})
}
