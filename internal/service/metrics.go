package service

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// serviceMetrics holds the Prometheus collectors for ingestion and QA.
// Collectors register with the default registry on first use.
type serviceMetrics struct {
	once sync.Once

	jobs           *prometheus.CounterVec
	filesIndexed   prometheus.Counter
	chunksCreated  prometheus.Counter
	embedRetries   prometheus.Counter
	embedFailures  prometheus.Counter
	vectorsReused  prometheus.Counter
	questions      *prometheus.CounterVec
	ingestDuration prometheus.Histogram
	askDuration    prometheus.Histogram
}

var metrics serviceMetrics

func (m *serviceMetrics) init() {
	m.once.Do(func() {
		m.jobs = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "codequery_ingestion_jobs_total", Help: "Ingestion jobs by terminal status"}, []string{"status"})
		m.filesIndexed = prometheus.NewCounter(prometheus.CounterOpts{Name: "codequery_files_indexed_total", Help: "Files accepted by the selector"})
		m.chunksCreated = prometheus.NewCounter(prometheus.CounterOpts{Name: "codequery_chunks_created_total", Help: "Chunks produced by the chunker"})
		m.embedRetries = prometheus.NewCounter(prometheus.CounterOpts{Name: "codequery_embed_retries_total", Help: "Embedding batch retries"})
		m.embedFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "codequery_embed_failures_total", Help: "Chunks left without a vector"})
		m.vectorsReused = prometheus.NewCounter(prometheus.CounterOpts{Name: "codequery_vectors_reused_total", Help: "Vectors reused from the previous chunk set"})
		m.questions = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "codequery_questions_total", Help: "Questions answered by mode"}, []string{"mode"})

		buckets := prometheus.ExponentialBuckets(0.05, 2, 12)
		m.ingestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "codequery_ingestion_seconds", Help: "Ingestion job duration", Buckets: buckets})
		m.askDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "codequery_ask_seconds", Help: "Ask latency", Buckets: buckets})

		prometheus.MustRegister(
			m.jobs, m.filesIndexed, m.chunksCreated,
			m.embedRetries, m.embedFailures, m.vectorsReused,
			m.questions, m.ingestDuration, m.askDuration,
		)
	})
}

func recordJob(status string, d time.Duration) {
	metrics.init()
	metrics.jobs.WithLabelValues(status).Inc()
	metrics.ingestDuration.Observe(d.Seconds())
}

func recordFileIndexed() { metrics.init(); metrics.filesIndexed.Inc() }
func recordChunks(n int) { metrics.init(); metrics.chunksCreated.Add(float64(n)) }
func recordEmbedRetry() { metrics.init(); metrics.embedRetries.Inc() }
func recordEmbedFailure() { metrics.init(); metrics.embedFailures.Inc() }
func recordVectorsReused(n int) { metrics.init(); metrics.vectorsReused.Add(float64(n)) }

func recordAsk(generative bool, d time.Duration) {
	metrics.init()
	mode := "retrieval"
	if generative {
		mode = "generative"
	}
	metrics.questions.WithLabelValues(mode).Inc()
	metrics.askDuration.Observe(d.Seconds())
}
