package retrieval

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metricsRetrieval struct {
	once sync.Once

	searches *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	relaxed  prometheus.Counter
}

var retrievalMetrics metricsRetrieval

func (m *metricsRetrieval) init() {
	m.once.Do(func() {
		m.searches = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filingsearch_searches_total",
			Help: "Searches by mode and outcome",
		}, []string{"mode", "outcome"})
		m.latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "filingsearch_search_seconds",
			Help:    "Search latency by mode",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"mode"})
		m.relaxed = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filingsearch_search_filter_relaxed_total",
			Help: "Semantic searches retried without their proceeding filter",
		})
		prometheus.MustRegister(m.searches, m.latency, m.relaxed)
	})
}

func recordSearch(mode string, start time.Time, err error) {
	retrievalMetrics.init()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	retrievalMetrics.searches.WithLabelValues(mode, outcome).Inc()
	retrievalMetrics.latency.WithLabelValues(mode).Observe(time.Since(start).Seconds())
}

func recordFilterRelaxed() {
	retrievalMetrics.init()
	retrievalMetrics.relaxed.Inc()
}
