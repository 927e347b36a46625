package pipeline

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsPipeline holds Prometheus metrics for ingestion runs.
type metricsPipeline struct {
	once sync.Once

	documents      *prometheus.CounterVec
	chunks         prometheus.Counter
	points         *prometheus.CounterVec
	embedDuration  prometheus.Histogram
	upsertDuration prometheus.Histogram
	runDuration    prometheus.Histogram
}

var pipeMetrics metricsPipeline

func (m *metricsPipeline) init() {
	m.once.Do(func() {
		m.documents = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filingsearch_documents_total",
			Help: "Document units finished, by status",
		}, []string{"status"})
		m.chunks = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filingsearch_chunks_produced_total",
			Help: "Chunks handed to the embedding stage",
		})
		m.points = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filingsearch_points_total",
			Help: "Vector points by upload result",
		}, []string{"result"})

		buckets := []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
		m.embedDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "filingsearch_embed_seconds", Help: "Duration of one embedding batch", Buckets: buckets})
		m.upsertDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "filingsearch_upsert_seconds", Help: "Duration of one vector upsert batch", Buckets: buckets})
		m.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "filingsearch_run_seconds", Help: "Duration of a full ingestion run", Buckets: prometheus.ExponentialBuckets(1, 4, 8)})

		prometheus.MustRegister(
			m.documents, m.chunks, m.points,
			m.embedDuration, m.upsertDuration, m.runDuration,
		)
	})
}

func recordDocument(status string) { pipeMetrics.init(); pipeMetrics.documents.WithLabelValues(status).Inc() }
func recordChunks(n int)           { pipeMetrics.init(); pipeMetrics.chunks.Add(float64(n)) }
func recordPoints(result string, n int) {
	pipeMetrics.init()
	pipeMetrics.points.WithLabelValues(result).Add(float64(n))
}
func observeEmbed(start time.Time)  { pipeMetrics.init(); pipeMetrics.embedDuration.Observe(time.Since(start).Seconds()) }
func observeUpsert(start time.Time) { pipeMetrics.init(); pipeMetrics.upsertDuration.Observe(time.Since(start).Seconds()) }
func observeRun(d time.Duration)    { pipeMetrics.init(); pipeMetrics.runDuration.Observe(d.Seconds()) }
