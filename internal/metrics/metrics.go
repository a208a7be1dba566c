// Package metrics exposes Prometheus collectors for assessments,
// ingestion and the HTTP API.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

type Metrics struct {
	AssessmentsTotal   *prometheus.CounterVec
	AssessmentDuration *prometheus.HistogramVec

	DocumentsIngestedTotal *prometheus.CounterVec
	ChunksIngestedTotal    prometheus.Counter

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New returns the process-wide metrics, registering them on first use.
//
// Metrics:
//   - regcheck_assessments_total{status,outcome}
//   - regcheck_assessment_duration_seconds{outcome}
//   - regcheck_documents_ingested_total{result}
//   - regcheck_chunks_ingested_total
//   - regcheck_http_requests_total{method,route,code}
//   - regcheck_http_request_duration_seconds{method,route}
func New() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			AssessmentsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "regcheck_assessments_total",
					Help: "Total number of compliance assessments by verdict status",
				},
				[]string{"status", "outcome"}, // outcome: "done" or "failed"
			),
			AssessmentDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "regcheck_assessment_duration_seconds",
					Help:    "Duration of compliance assessments in seconds",
					Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
				},
				[]string{"outcome"},
			),
			DocumentsIngestedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "regcheck_documents_ingested_total",
					Help: "Total number of documents seen by ingestion",
				},
				[]string{"result"}, // "processed", "skipped", "failed"
			),
			ChunksIngestedTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "regcheck_chunks_ingested_total",
					Help: "Total number of chunks written to the vector store",
				},
			),
			HTTPRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "regcheck_http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "route", "code"},
			),
			HTTPRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "regcheck_http_request_duration_seconds",
					Help:    "Duration of HTTP requests in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"method", "route"},
			),
		}
	})
	return globalMetrics
}

// RecordAssessment counts one finished assessment. A nil receiver is a no-op.
func (m *Metrics) RecordAssessment(status string, failed bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "done"
	if failed {
		outcome = "failed"
	}
	m.AssessmentsTotal.WithLabelValues(status, outcome).Inc()
	m.AssessmentDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) RecordIngest(result string, chunks int) {
	if m == nil {
		return
	}
	m.DocumentsIngestedTotal.WithLabelValues(result).Inc()
	if chunks > 0 {
		m.ChunksIngestedTotal.Add(float64(chunks))
	}
}

func (m *Metrics) RecordHTTP(method, route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
