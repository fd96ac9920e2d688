package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce       sync.Once
	apiRequestsTotal   *prometheus.CounterVec
	apiLatencySeconds  *prometheus.HistogramVec
	apiErrorsTotal     *prometheus.CounterVec
	gradedItemsTotal   *prometheus.CounterVec
	itemFailuresTotal  *prometheus.CounterVec
	similarityObserved prometheus.Histogram
	questionBankSize   prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors used by the grader.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grader_api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_api_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		gradedItemsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_graded_items_total",
			Help: "Graded answers by rubric band.",
		}, []string{"band"})

		itemFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_item_failures_total",
			Help: "Batch items converted into error records.",
		}, []string{"reason"})

		similarityObserved = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "grader_similarity_score",
			Help:    "Distribution of similarity scores for resolved answers.",
			Buckets: []float64{0, 0.2, 0.35, 0.5, 0.65, 0.8, 0.9, 1.0},
		})

		questionBankSize = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grader_question_bank_size",
			Help: "Number of questions in the loaded index snapshot.",
		})

		prometheus.MustRegister(
			apiRequestsTotal,
			apiLatencySeconds,
			apiErrorsTotal,
			gradedItemsTotal,
			itemFailuresTotal,
			similarityObserved,
			questionBankSize,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// GradedItems counts graded answers per rubric band.
func GradedItems() *prometheus.CounterVec {
	RegisterMetrics()
	return gradedItemsTotal
}

// ItemFailures counts error records produced by batch evaluation.
func ItemFailures() *prometheus.CounterVec {
	RegisterMetrics()
	return itemFailuresTotal
}

// SimilarityScores observes similarity scores.
func SimilarityScores() prometheus.Histogram {
	RegisterMetrics()
	return similarityObserved
}

// QuestionBankSize reports the size of the current index snapshot.
func QuestionBankSize() prometheus.Gauge {
	RegisterMetrics()
	return questionBankSize
}
