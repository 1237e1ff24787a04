package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// 新入库邮件计数
	EmailsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "emails_ingested_total",
			Help: "Total number of emails stored by the fetcher",
		},
	)

	// 标注来源计数
	AnnotationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_annotations_total",
			Help: "Total number of email annotations",
		},
		[]string{"source"}, // source: ai, fallback
	)

	// 模型调用计数
	ClassifierAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifier_attempts_total",
			Help: "Total number of classifier model calls",
		},
		[]string{"outcome"}, // outcome: valid, invalid, error
	)

	ClassifierLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "classifier_latency_ms",
			Help:    "Classifier model call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
	)

	// 审批决策计数
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decisions_total",
			Help: "Total number of approval decisions",
		},
		[]string{"kind", "decision"}, // kind: email, approval
	)
)

// RecordHTTPRequest 记录 HTTP 请求延迟
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordClassifierAttempt 记录一次模型调用
func RecordClassifierAttempt(outcome string, duration time.Duration) {
	ClassifierAttempts.WithLabelValues(outcome).Inc()
	ClassifierLatency.Observe(float64(duration.Milliseconds()))
}

// RecordAnnotation 记录标注来源
func RecordAnnotation(source string) {
	AnnotationsTotal.WithLabelValues(source).Inc()
}

// RecordDecision 记录审批决策
func RecordDecision(kind, decision string) {
	DecisionsTotal.WithLabelValues(kind, decision).Inc()
}
