// Package observability holds the engine's Prometheus instruments and
// OpenTelemetry tracing helpers: a process-wide tracer named after the
// module, and the metrics the permission gate and cache tiers report.
package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/haasonsaas/agentengine"

// Metrics bundles every Prometheus instrument the engine reports.
// Construct once with NewMetrics and share; all fields are safe for
// concurrent use.
type Metrics struct {
	ToolExecDuration *prometheus.HistogramVec
	CacheOps         *prometheus.CounterVec
	ApprovalLatency  prometheus.Histogram
	ApprovalOutcome  *prometheus.CounterVec
}

// NewMetrics registers the engine's instruments on reg. A nil reg uses
// the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		ToolExecDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentengine",
			Name:      "tool_exec_duration_seconds",
			Help:      "Wall time of gated tool executions.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 3, 9),
		}, []string{"tool", "status"}),
		CacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentengine",
			Name:      "cache_ops_total",
			Help:      "Cache lookups partitioned by tier outcome.",
		}, []string{"cache_type", "outcome"}),
		ApprovalLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agentengine",
			Name:      "approval_latency_seconds",
			Help:      "Time a tool call spent suspended awaiting a human decision.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		ApprovalOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentengine",
			Name:      "approval_outcomes_total",
			Help:      "Resolutions of suspended approval requests.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.ToolExecDuration, m.CacheOps, m.ApprovalLatency, m.ApprovalOutcome)
	return m
}

// ObserveTool records one gated tool execution. Nil-safe so call sites
// never have to guard on whether metrics are configured.
func (m *Metrics) ObserveTool(tool, status string, seconds float64) {
	if m == nil {
		return
	}
	m.ToolExecDuration.WithLabelValues(tool, status).Observe(seconds)
}

// ObserveCache records one cache lookup outcome ("l1_hit", "l2_hit",
// "miss", "expired"). Nil-safe.
func (m *Metrics) ObserveCache(cacheType, outcome string) {
	if m == nil {
		return
	}
	m.CacheOps.WithLabelValues(cacheType, outcome).Inc()
}

// ObserveApproval records a resolved approval round trip. Nil-safe.
func (m *Metrics) ObserveApproval(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.ApprovalOutcome.WithLabelValues(outcome).Inc()
	m.ApprovalLatency.Observe(seconds)
}

// Tracer returns the module's tracer from the globally-registered
// provider; a no-op provider (the otel default) makes every span free.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartToolSpan opens a span around one tool invocation.
func StartToolSpan(ctx context.Context, tool string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "tool."+tool,
		trace.WithAttributes(attribute.String("tool.name", tool)))
}

// StartNodeSpan opens a span around one graph node execution.
func StartNodeSpan(ctx context.Context, node string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "graph."+node,
		trace.WithAttributes(attribute.String("graph.node", node)))
}
