package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RPCCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpc_calls_total",
			Help: "Total number of RPC-over-broker calls by action and outcome (count)",
		},
		[]string{"action", "status"},
	)

	RPCInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rpc_inflight_calls",
			Help: "Number of RPC calls currently awaiting a reply (count)",
		},
	)

	PipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_runs_total",
			Help: "Total number of post-generation pipeline runs by outcome (count)",
		},
		[]string{"status"},
	)

	PipelineStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_ms",
			Help:    "Duration per pipeline stage in milliseconds",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 15000, 60000, 120000, 240000},
		},
		[]string{"stage"},
	)

	PostsGeneratedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "posts_generated_total",
			Help: "Total number of posts delivered in success events (count)",
		},
	)

	PricingLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricing_lookups_total",
			Help: "Total number of pricing calculator lookups by outcome (count)",
		},
		[]string{"status"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

func ObserveStageDuration(stage string, d time.Duration) {
	PipelineStageDuration.WithLabelValues(stage).Observe(float64(d.Milliseconds()))
}

func RegisterRPCMetrics() {
	prometheus.MustRegister(RPCCallsTotal)
	prometheus.MustRegister(RPCInflight)
}

func RegisterPipelineMetrics() {
	prometheus.MustRegister(PipelineRunsTotal)
	prometheus.MustRegister(PipelineStageDuration)
	prometheus.MustRegister(PostsGeneratedTotal)
	prometheus.MustRegister(PricingLookupsTotal)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
}
