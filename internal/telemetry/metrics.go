package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kbindex"

// Metrics holds the prometheus collectors. Each instance owns its registry
// so several can coexist in tests. All Observe methods accept a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	runs           *prometheus.CounterVec
	runDuration    prometheus.Histogram
	files          *prometheus.CounterVec
	fileDuration   prometheus.Histogram
	chunks         prometheus.Counter
	embedBatches   *prometheus.CounterVec
	embedDuration  prometheus.Histogram
	searches       *prometheus.CounterVec
	searchDuration prometheus.Histogram
	searchResults  prometheus.Histogram
}

// NewMetrics creates and registers the collectors, plus the Go runtime and
// process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "index_runs_total",
				Help:      "Indexing runs by final state",
			},
			[]string{"state"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "index_run_duration_seconds",
				Help:      "Duration of indexing runs in seconds",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 15), // 1s to ~16384s
			},
		),
		files: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "index_files_total",
				Help:      "Files processed by outcome",
			},
			[]string{"outcome"},
		),
		fileDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "index_file_duration_seconds",
				Help:      "Time to load, chunk, embed and upsert one file",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 15),
			},
		),
		chunks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "index_chunks_total",
				Help:      "Chunks upserted into the vector store",
			},
		),
		embedBatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "embed_batches_total",
				Help:      "Embedding batches by result",
			},
			[]string{"result"},
		),
		embedDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "embed_batch_duration_seconds",
				Help:      "Embedding batch latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		searches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "searches_total",
				Help:      "Vector searches by result",
			},
			[]string{"result"},
		),
		searchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_duration_seconds",
				Help:      "Vector search latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		searchResults: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_results",
				Help:      "Number of results returned per search",
				Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
			},
		),
	}

	m.registry.MustRegister(
		m.runs, m.runDuration,
		m.files, m.fileDuration, m.chunks,
		m.embedBatches, m.embedDuration,
		m.searches, m.searchDuration, m.searchResults,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the exposition format for /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRun records a finished indexing run.
func (m *Metrics) ObserveRun(state string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(state).Inc()
	m.runDuration.Observe(elapsed.Seconds())
}

// ObserveFile records one processed file.
func (m *Metrics) ObserveFile(outcome string, chunks int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.files.WithLabelValues(outcome).Inc()
	m.fileDuration.Observe(elapsed.Seconds())
	if chunks > 0 {
		m.chunks.Add(float64(chunks))
	}
}

// ObserveEmbedBatch records one embedding backend call.
func (m *Metrics) ObserveEmbedBatch(texts int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.embedBatches.WithLabelValues(result(err)).Inc()
	m.embedDuration.Observe(elapsed.Seconds())
}

// ObserveSearch records one vector search.
func (m *Metrics) ObserveSearch(elapsed time.Duration, results int, err error) {
	if m == nil {
		return
	}
	m.searches.WithLabelValues(result(err)).Inc()
	m.searchDuration.Observe(elapsed.Seconds())
	if err == nil {
		m.searchResults.Observe(float64(results))
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
