package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultTimeout               = 10 * time.Second
	DefaultHealthCheckInterval   = 30 * time.Second
	DefaultHealthCheckTimeout    = 5 * time.Second
	DefaultCircuitBreakerTimeout = 60 * time.Second
)

// TransitionFunc receives provider health transitions, e.g. for persistence
// in the audit store. Called outside record locks; must not block the caller
// for long.
type TransitionFunc func(t Transition)

// Router dispatches logical RPC calls across a set of interchangeable
// upstream providers, failing over between them and tracking their health.
// Safe for concurrent use.
type Router struct {
	records []*record
	byName  map[string]*record
	routing RoutingConfig
	log     *zap.Logger

	policyMu sync.RWMutex
	active   Policy

	rrMu     sync.Mutex
	rrCursor int

	totalRequests      atomic.Uint64
	successfulRequests atomic.Uint64
	failedRequests     atomic.Uint64

	cache        Cache
	cacheTTL     time.Duration
	cacheMethods map[string]bool

	onTransition TransitionFunc

	stopCh  chan struct{}
	stopped atomic.Bool
}

func New(cfg Config, logger *zap.Logger) (*Router, error) {
	if len(cfg.Providers) == 0 {
		return nil, ErrNoProviders
	}
	if !cfg.Routing.Policy.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, cfg.Routing.Policy)
	}
	if cfg.Routing.CircuitBreakerThreshold < 1 {
		return nil, ErrInvalidThreshold
	}
	if cfg.Routing.MaxErrorRate < 0 || cfg.Routing.MaxErrorRate > 1 {
		return nil, ErrInvalidErrorRate
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	routing := cfg.Routing
	if routing.HealthCheckInterval <= 0 {
		routing.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if routing.HealthCheckTimeout <= 0 {
		routing.HealthCheckTimeout = DefaultHealthCheckTimeout
	}
	if routing.CircuitBreakerTimeout <= 0 {
		routing.CircuitBreakerTimeout = DefaultCircuitBreakerTimeout
	}

	rt := &Router{
		records: make([]*record, 0, len(cfg.Providers)),
		byName:  make(map[string]*record, len(cfg.Providers)),
		routing: routing,
		active:  routing.Policy,
		log:     logger,
		stopCh:  make(chan struct{}),
	}

	for _, pc := range cfg.Providers {
		if pc.Name == "" || pc.Handle == nil {
			return nil, fmt.Errorf("provider %q: name and handle required", pc.Name)
		}
		if _, dup := rt.byName[pc.Name]; dup {
			return nil, fmt.Errorf("provider %q: duplicate name", pc.Name)
		}
		if pc.Timeout <= 0 {
			pc.Timeout = DefaultTimeout
		}
		rec := newRecord(pc)
		rt.records = append(rt.records, rec)
		rt.byName[pc.Name] = rec
		if pc.Enabled {
			providerHealthy.WithLabelValues(pc.Name).Set(1)
		} else {
			providerHealthy.WithLabelValues(pc.Name).Set(0)
		}
		breakerState.WithLabelValues(pc.Name).Set(0)
	}

	go rt.healthLoop()

	return rt, nil
}

// SetTransitionHook installs a callback for health state transitions.
// Must be called during setup, before the router serves traffic.
func (rt *Router) SetTransitionHook(fn TransitionFunc) {
	rt.onTransition = fn
}

// SetCache enables response caching for the given methods.
// Must be called during setup, before the router serves traffic.
func (rt *Router) SetCache(c Cache, methods []string, ttl time.Duration) {
	rt.cache = c
	rt.cacheTTL = ttl
	rt.cacheMethods = make(map[string]bool, len(methods))
	for _, m := range methods {
		rt.cacheMethods[m] = true
	}
}

// SetPolicy switches the active routing policy at runtime.
func (rt *Router) SetPolicy(p Policy) error {
	if !p.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownPolicy, p)
	}
	rt.policyMu.Lock()
	rt.active = p
	rt.policyMu.Unlock()
	return nil
}

func (rt *Router) policy() Policy {
	rt.policyMu.RLock()
	defer rt.policyMu.RUnlock()
	return rt.active
}

// SetEnabled flips a provider's operator-controlled enabled flag.
func (rt *Router) SetEnabled(name string, enabled bool) error {
	rec, ok := rt.byName[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	rec.setEnabled(enabled)
	if enabled && rec.health().Healthy {
		providerHealthy.WithLabelValues(name).Set(1)
	} else {
		providerHealthy.WithLabelValues(name).Set(0)
	}
	return nil
}

// CallInfo describes how a logical call was served, for audit purposes.
type CallInfo struct {
	Provider string
	Attempts int
	Duration time.Duration
	Cached   bool
}

// Call executes a logical RPC call against the best available provider,
// failing over in ranked order until one succeeds or all are exhausted.
func (rt *Router) Call(ctx context.Context, method string, params []any) (any, error) {
	result, _, err := rt.CallDetailed(ctx, method, params)
	return result, err
}

// CallDetailed is Call plus dispatch details for callers that audit traffic.
func (rt *Router) CallDetailed(ctx context.Context, method string, params []any) (any, CallInfo, error) {
	start := time.Now()
	info := CallInfo{}

	if rt.stopped.Load() {
		return nil, info, ErrRouterClosed
	}

	rt.totalRequests.Add(1)

	if cached, ok := rt.cacheLookup(method, params); ok {
		rt.successfulRequests.Add(1)
		requestsTotal.WithLabelValues("cache_hit").Inc()
		info.Cached = true
		info.Duration = time.Since(start)
		return cached, info, nil
	}

	candidates := rt.rank()

	var lastErr error
	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			// Caller deadline expired; do not burn the remaining
			// candidates on a dead request.
			lastErr = err
			break
		}
		if !cand.rec.isEnabled() {
			continue
		}

		info.Attempts++
		result, err := rt.attempt(ctx, cand.rec, method, params)
		if err != nil {
			lastErr = err
			rt.log.Debug("provider attempt failed",
				zap.String("provider", cand.name),
				zap.String("method", method),
				zap.Error(err))
			continue
		}

		rt.successfulRequests.Add(1)
		requestsTotal.WithLabelValues("success").Inc()
		callLatency.Observe(float64(time.Since(start).Milliseconds()))
		rt.cacheFill(method, params, result)
		info.Provider = cand.name
		info.Duration = time.Since(start)
		return result, info, nil
	}

	rt.failedRequests.Add(1)
	requestsTotal.WithLabelValues("failure").Inc()
	rt.log.Warn("all providers failed",
		zap.String("method", method),
		zap.Int("attempts", info.Attempts),
		zap.Error(lastErr))

	info.Duration = time.Since(start)
	return nil, info, &AllProvidersFailedError{Method: method, Attempts: info.Attempts, LastErr: lastErr}
}

// attempt runs one provider call with the provider's own timeout and records
// the outcome against its record.
func (rt *Router) attempt(ctx context.Context, rec *record, method string, params []any) (any, error) {
	callCtx, cancel := context.WithTimeout(ctx, rec.timeout)
	defer cancel()

	start := time.Now()
	result, err := rec.handle.Call(callCtx, method, params)
	elapsed := time.Since(start)

	if err != nil {
		attemptsTotal.WithLabelValues(rec.name, "error").Inc()
		rt.emit(rec.observeFailure(rt.routing.CircuitBreakerThreshold, rt.routing.CircuitBreakerTimeout))
		return nil, err
	}

	attemptsTotal.WithLabelValues(rec.name, "success").Inc()
	rt.emit(rec.observeSuccess(elapsed, rt.routing.CircuitBreakerTimeout))
	return result, nil
}

func (rt *Router) emit(t *Transition) {
	if t == nil {
		return
	}
	setBreakerGauges(t.Provider, t.To)
	rt.log.Info("provider state transition",
		zap.String("provider", t.Provider),
		zap.String("from", t.From),
		zap.String("to", t.To),
		zap.String("reason", t.Reason))
	if rt.onTransition != nil {
		rt.onTransition(*t)
	}
}

func (rt *Router) cacheLookup(method string, params []any) (any, bool) {
	if rt.cache == nil || !rt.cacheMethods[method] {
		return nil, false
	}
	key, err := CacheKey(method, params)
	if err != nil {
		return nil, false
	}
	payload, ok := rt.cache.GetResponse(key)
	if !ok {
		return nil, false
	}
	var result any
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, false
	}
	return result, true
}

func (rt *Router) cacheFill(method string, params []any, result any) {
	if rt.cache == nil || !rt.cacheMethods[method] {
		return
	}
	key, err := CacheKey(method, params)
	if err != nil {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return
	}
	_ = rt.cache.SetResponse(key, payload, rt.cacheTTL)
}

// Health returns a point-in-time health snapshot. Router-level healthy is
// true iff at least one provider is healthy.
func (rt *Router) Health() HealthSnapshot {
	snap := HealthSnapshot{
		TotalProviders: len(rt.records),
		Providers:      make(map[string]ProviderHealth, len(rt.records)),
	}
	for _, rec := range rt.records {
		h := rec.health()
		snap.Providers[rec.name] = h
		if h.Healthy {
			snap.HealthyProviders++
		} else {
			snap.UnhealthyProviders++
		}
	}
	snap.Healthy = snap.HealthyProviders > 0
	return snap
}

// GetMetrics returns a point-in-time metrics snapshot.
func (rt *Router) GetMetrics() MetricsSnapshot {
	total := rt.totalRequests.Load()
	success := rt.successfulRequests.Load()
	failed := rt.failedRequests.Load()

	snap := MetricsSnapshot{
		Router: RouterStats{
			TotalRequests:      total,
			SuccessfulRequests: success,
			FailedRequests:     failed,
		},
		Providers: make(map[string]ProviderStats, len(rt.records)),
		Usage: UsageStats{
			PerProvider: make(map[string]ProviderUsage, len(rt.records)),
			TotalCost:   decimal.Zero,
		},
	}
	if total > 0 {
		snap.Router.SuccessRate = float64(success) / float64(total)
	}
	for _, rec := range rt.records {
		snap.Providers[rec.name] = rec.stats()
		u := rec.usage()
		snap.Usage.PerProvider[rec.name] = u
		snap.Usage.TotalCost = snap.Usage.TotalCost.Add(u.Cost)
	}
	if rt.cache != nil {
		snap.Usage.CacheHits, snap.Usage.CacheMisses = rt.cache.HitStats()
	}
	return snap
}

// Close stops the health monitor. Idempotent.
func (rt *Router) Close() error {
	if rt.stopped.Swap(true) {
		return nil
	}
	close(rt.stopCh)
	return nil
}
