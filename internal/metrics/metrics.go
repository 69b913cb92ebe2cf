// Package metrics exposes the broadcaster's Prometheus collectors.
package metrics

import (
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains every collector the playout pipeline reports into.
type Metrics struct {
	registry *prometheus.Registry

	bufferedSeconds    prometheus.Gauge
	queueDepth         prometheus.Gauge
	segmentsBuilt      *prometheus.CounterVec
	segmentsPlayed     *prometheus.CounterVec
	buildFailures      prometheus.Counter
	publisherRestarts  prometheus.Counter
	chunkRenderSeconds prometheus.Histogram
	meterLevel         *prometheus.GaugeVec
}

// New creates the collectors on a private registry.
func New() (*Metrics, error) {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.initMetrics()
	if err := m.registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.bufferedSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "airwav_buffered_seconds",
		Help: "Planned audio ahead of the playhead in seconds",
	})

	m.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "airwav_queue_depth",
		Help: "Rendered segments waiting in the priority queue",
	})

	m.segmentsBuilt = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "airwav_segments_built_total",
		Help: "Total segments rendered by the builder",
	}, []string{"kind"})

	m.segmentsPlayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "airwav_segments_played_total",
		Help: "Total segments that reached the output",
	}, []string{"kind"})

	m.buildFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "airwav_build_failures_total",
		Help: "Total segment build attempts that failed",
	})

	m.publisherRestarts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "airwav_publisher_restarts_total",
		Help: "Total RTMP publisher restarts after an unexpected exit",
	})

	m.chunkRenderSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "airwav_chunk_render_seconds",
		Help:    "Wall time spent rendering one timeline window",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
	})

	m.meterLevel = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "airwav_meter_level",
		Help: "Planned envelope level per output channel, 0 to 1",
	}, []string{"channel"})
}

// Describe implements the Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.bufferedSeconds.Describe(ch)
	m.queueDepth.Describe(ch)
	m.segmentsBuilt.Describe(ch)
	m.segmentsPlayed.Describe(ch)
	m.buildFailures.Describe(ch)
	m.publisherRestarts.Describe(ch)
	m.chunkRenderSeconds.Describe(ch)
	m.meterLevel.Describe(ch)
}

// Collect implements the Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.bufferedSeconds.Collect(ch)
	m.queueDepth.Collect(ch)
	m.segmentsBuilt.Collect(ch)
	m.segmentsPlayed.Collect(ch)
	m.buildFailures.Collect(ch)
	m.publisherRestarts.Collect(ch)
	m.chunkRenderSeconds.Collect(ch)
	m.meterLevel.Collect(ch)
}

// SetBufferedSeconds records the current buffer depth.
func (m *Metrics) SetBufferedSeconds(sec float64) {
	m.bufferedSeconds.Set(sec)
}

// SetQueueDepth records the current queue length.
func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

// RecordSegmentBuilt counts a finished build by segment kind.
func (m *Metrics) RecordSegmentBuilt(kind string) {
	m.segmentsBuilt.WithLabelValues(kind).Inc()
}

// RecordSegmentPlayed counts a segment reaching the output by kind.
func (m *Metrics) RecordSegmentPlayed(kind string) {
	m.segmentsPlayed.WithLabelValues(kind).Inc()
}

// RecordBuildFailure counts a failed build attempt.
func (m *Metrics) RecordBuildFailure() {
	m.buildFailures.Inc()
}

// RecordPublisherRestart counts an RTMP publisher restart.
func (m *Metrics) RecordPublisherRestart() {
	m.publisherRestarts.Inc()
}

// ObserveChunkRender records the wall time of one window render.
func (m *Metrics) ObserveChunkRender(seconds float64) {
	m.chunkRenderSeconds.Observe(seconds)
}

// SetMeterLevel records the planned envelope level for one channel.
func (m *Metrics) SetMeterLevel(channel string, level float64) {
	m.meterLevel.WithLabelValues(channel).Set(level)
}

// Registry returns the backing registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the exposition endpoint for the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      log.New(os.Stderr, "metrics handler: ", log.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}
