// Package http provides ambient HTTP transport concerns shared by the
// Proxy Engine and the admin API: request metrics, health checks, and
// request-ID logging middleware.
package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics recorded across the gated proxy
// pipeline.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	PipelineStage      *prometheus.HistogramVec
	ActiveGrants       prometheus.Gauge
	PendingApprovals   prometheus.Gauge
	ApprovalsTotal     *prometheus.CounterVec
	AuditWriteFailures prometheus.Counter
}

// NewMetrics creates and registers all metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clawguard",
				Name:      "requests_total",
				Help:      "Total number of proxied requests, by method and outcome status.",
			},
			[]string{"method", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "clawguard",
				Name:      "request_duration_seconds",
				Help:      "End-to-end proxied request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		PipelineStage: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "clawguard",
				Name:      "pipeline_stage_seconds",
				Help:      "Duration of one proxy pipeline stage in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"}, // identity, routing, guard, approval, forward, audit
		),
		ActiveGrants: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "clawguard",
				Name:      "active_grants",
				Help:      "Number of services with a currently live Grant.",
			},
		),
		PendingApprovals: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "clawguard",
				Name:      "pending_approvals",
				Help:      "Number of PendingApprovals currently awaiting a human decision.",
			},
		),
		ApprovalsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clawguard",
				Name:      "approvals_total",
				Help:      "Total approval decisions, by outcome.",
			},
			[]string{"outcome"}, // approved, denied, timeout
		),
		AuditWriteFailures: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "clawguard",
				Name:      "audit_write_failures_total",
				Help:      "Total Audit Store write failures (never blocks the response).",
			},
		),
	}
}
