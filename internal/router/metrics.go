package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpcrouter_requests_total",
			Help: "Logical RPC calls by outcome",
		},
		[]string{"outcome"},
	)

	attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpcrouter_provider_attempts_total",
			Help: "Per-provider call attempts by outcome",
		},
		[]string{"provider", "outcome"},
	)

	callLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rpcrouter_call_latency_ms",
			Help:    "End-to-end logical call latency including failover",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
	)

	providerHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rpcrouter_provider_healthy",
			Help: "Provider health (1=healthy, 0=unhealthy)",
		},
		[]string{"provider"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rpcrouter_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"provider"},
	)
)

func setBreakerGauges(provider, state string) {
	switch state {
	case StateClosed:
		providerHealthy.WithLabelValues(provider).Set(1)
		breakerState.WithLabelValues(provider).Set(0)
	case StateOpen:
		providerHealthy.WithLabelValues(provider).Set(0)
		breakerState.WithLabelValues(provider).Set(1)
	case StateHalfOpen:
		providerHealthy.WithLabelValues(provider).Set(0)
		breakerState.WithLabelValues(provider).Set(2)
	}
}
