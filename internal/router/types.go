package router

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Provider is the capability a record dispatches through. Adapters own the
// transport (HTTP, WebSocket, in-process stub); the router never dials
// anything itself.
type Provider interface {
	Call(ctx context.Context, method string, params []any) (any, error)
	HealthCheck(ctx context.Context) (bool, error)
}

type Policy string

const (
	PolicyHealthFirst  Policy = "health_first"
	PolicyLatencyBased Policy = "latency_based"
	PolicyCostBased    Policy = "cost_based"
	PolicyRoundRobin   Policy = "round_robin"
)

func (p Policy) Valid() bool {
	switch p {
	case PolicyHealthFirst, PolicyLatencyBased, PolicyCostBased, PolicyRoundRobin:
		return true
	}
	return false
}

type ProviderConfig struct {
	Name           string
	Handle         Provider
	Priority       int
	Enabled        bool
	CostPerRequest decimal.Decimal
	Timeout        time.Duration
}

type RoutingConfig struct {
	Policy                  Policy
	HealthCheckInterval     time.Duration
	HealthCheckTimeout      time.Duration
	MaxErrorRate            float64
	MaxLatencyMs            float64
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
}

type Config struct {
	Providers []ProviderConfig
	Routing   RoutingConfig
}

// ProviderHealth is one provider's entry in a health snapshot.
type ProviderHealth struct {
	Healthy   bool    `json:"healthy"`
	LatencyMs float64 `json:"latency_ms"`
	ErrorRate float64 `json:"error_rate"`
}

type HealthSnapshot struct {
	Healthy            bool                      `json:"healthy"`
	TotalProviders     int                       `json:"total_providers"`
	HealthyProviders   int                       `json:"healthy_providers"`
	UnhealthyProviders int                       `json:"unhealthy_providers"`
	Providers          map[string]ProviderHealth `json:"providers"`
}

type RouterStats struct {
	TotalRequests      uint64  `json:"total_requests"`
	SuccessfulRequests uint64  `json:"successful_requests"`
	FailedRequests     uint64  `json:"failed_requests"`
	SuccessRate        float64 `json:"success_rate"`
}

type ProviderStats struct {
	SuccessCount uint64  `json:"success_count"`
	ErrorCount   uint64  `json:"error_count"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

type ProviderUsage struct {
	Requests uint64          `json:"requests"`
	Cost     decimal.Decimal `json:"cost"`
}

type UsageStats struct {
	PerProvider map[string]ProviderUsage `json:"per_provider"`
	TotalCost   decimal.Decimal          `json:"total_cost"`
	CacheHits   int64                    `json:"cache_hits"`
	CacheMisses int64                    `json:"cache_misses"`
}

type MetricsSnapshot struct {
	Router    RouterStats              `json:"router"`
	Providers map[string]ProviderStats `json:"providers"`
	Usage     UsageStats               `json:"usage"`
}

// Transition describes a provider health state change, reported to the
// optional transition hook for persistence.
type Transition struct {
	Provider string
	From     string
	To       string
	Reason   string
	At       time.Time
}

// Cache is consulted for idempotent read methods before any provider is
// attempted. Implemented by internal/kv.
type Cache interface {
	GetResponse(key [32]byte) ([]byte, bool)
	SetResponse(key [32]byte, payload []byte, ttl time.Duration) error
	HitStats() (hits, misses int64)
}
