package router

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"

	// latencyAlpha is the EWMA smoothing factor for observed call latency.
	latencyAlpha = 0.2

	// minErrorSample is the minimum number of observed calls before the
	// health monitor demotes a provider on error rate alone.
	minErrorSample = 5
)

// record is the router-owned mutable state for one provider. All mutable
// fields are guarded by mu; each record has its own lock so unrelated
// providers never serialize each other's traffic.
type record struct {
	name           string
	handle         Provider
	priority       int
	costPerRequest decimal.Decimal
	timeout        time.Duration

	mu                  sync.Mutex
	enabled             bool
	healthy             bool
	successCount        uint64
	errorCount          uint64
	latencyMs           float64
	consecutiveFailures int
	circuitOpenedAt     time.Time
}

func newRecord(cfg ProviderConfig) *record {
	return &record{
		name:           cfg.Name,
		handle:         cfg.Handle,
		priority:       cfg.Priority,
		costPerRequest: cfg.CostPerRequest,
		timeout:        cfg.Timeout,
		enabled:        cfg.Enabled,
		healthy:        true,
	}
}

// view is an immutable copy of a record's ranking-relevant fields, taken
// under the record lock so the policy evaluator never ranks on
// partially-updated state.
type view struct {
	rec       *record
	name      string
	priority  int
	enabled   bool
	healthy   bool
	errorRate float64
	latencyMs float64
	cost      decimal.Decimal
}

func (r *record) snapshot() view {
	r.mu.Lock()
	defer r.mu.Unlock()
	return view{
		rec:       r,
		name:      r.name,
		priority:  r.priority,
		enabled:   r.enabled,
		healthy:   r.healthy,
		errorRate: r.errorRateLocked(),
		latencyMs: r.latencyMs,
		cost:      r.costPerRequest,
	}
}

func (r *record) errorRateLocked() float64 {
	total := r.successCount + r.errorCount
	if total == 0 {
		return 0
	}
	return float64(r.errorCount) / float64(total)
}

func (r *record) isEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

func (r *record) setEnabled(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = v
}

// observeSuccess records a successful call. If the breaker was open and its
// half-open window had elapsed, the success closes it and the returned
// transition is non-nil.
func (r *record) observeSuccess(elapsed time.Duration, breakerTimeout time.Duration) *Transition {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.successCount++
	r.consecutiveFailures = 0
	r.observeLatencyLocked(elapsed)

	if !r.healthy && time.Since(r.circuitOpenedAt) >= breakerTimeout {
		r.healthy = true
		r.circuitOpenedAt = time.Time{}
		return &Transition{
			Provider: r.name,
			From:     StateHalfOpen,
			To:       StateClosed,
			Reason:   "call_succeeded",
			At:       time.Now(),
		}
	}
	return nil
}

// observeFailure records a failed call and trips the breaker once the
// consecutive-failure threshold is reached. A failure on an open breaker
// whose cooldown has elapsed counts as a failed half-open attempt and
// restarts the window.
func (r *record) observeFailure(threshold int, breakerTimeout time.Duration) *Transition {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errorCount++
	r.consecutiveFailures++

	if r.healthy {
		if r.consecutiveFailures >= threshold {
			r.healthy = false
			r.circuitOpenedAt = time.Now()
			return &Transition{
				Provider: r.name,
				From:     StateClosed,
				To:       StateOpen,
				Reason:   "consecutive_failures",
				At:       time.Now(),
			}
		}
		return nil
	}

	if !r.circuitOpenedAt.IsZero() && time.Since(r.circuitOpenedAt) >= breakerTimeout {
		r.circuitOpenedAt = time.Now()
		return &Transition{
			Provider: r.name,
			From:     StateHalfOpen,
			To:       StateOpen,
			Reason:   "call_failed",
			At:       time.Now(),
		}
	}
	return nil
}

func (r *record) observeLatencyLocked(elapsed time.Duration) {
	// Fractional so sub-millisecond calls do not round to zero and
	// re-trigger the first-sample bootstrap.
	ms := float64(elapsed) / float64(time.Millisecond)
	if r.latencyMs == 0 {
		r.latencyMs = ms
		return
	}
	r.latencyMs = latencyAlpha*ms + (1-latencyAlpha)*r.latencyMs
}

// open marks the provider unhealthy for the given reason, starting the
// breaker timeout window. No-op if already open.
func (r *record) open(reason string) *Transition {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.healthy {
		return nil
	}
	r.healthy = false
	r.circuitOpenedAt = time.Now()
	return &Transition{
		Provider: r.name,
		From:     StateClosed,
		To:       StateOpen,
		Reason:   reason,
		At:       time.Now(),
	}
}

// close marks the provider healthy again and clears the failure streak.
// No-op if already closed.
func (r *record) close(reason string) *Transition {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.healthy {
		return nil
	}
	r.healthy = true
	r.consecutiveFailures = 0
	r.circuitOpenedAt = time.Time{}
	return &Transition{
		Provider: r.name,
		From:     StateOpen,
		To:       StateClosed,
		Reason:   reason,
		At:       time.Now(),
	}
}

// reopen restarts the breaker timeout window after a failed half-open probe.
func (r *record) reopen(reason string) *Transition {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.healthy {
		return nil
	}
	r.circuitOpenedAt = time.Now()
	return &Transition{
		Provider: r.name,
		From:     StateHalfOpen,
		To:       StateOpen,
		Reason:   reason,
		At:       time.Now(),
	}
}

// halfOpenDue reports whether the breaker has been open long enough that a
// single recovery probe is allowed.
func (r *record) halfOpenDue(breakerTimeout time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.healthy && !r.circuitOpenedAt.IsZero() && time.Since(r.circuitOpenedAt) >= breakerTimeout
}

func (r *record) state() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.healthy {
		return StateClosed
	}
	return StateOpen
}

func (r *record) health() ProviderHealth {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ProviderHealth{
		Healthy:   r.healthy,
		LatencyMs: r.latencyMs,
		ErrorRate: r.errorRateLocked(),
	}
}

func (r *record) stats() ProviderStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ProviderStats{
		SuccessCount: r.successCount,
		ErrorCount:   r.errorCount,
		AvgLatencyMs: r.latencyMs,
	}
}

func (r *record) usage() ProviderUsage {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := r.successCount + r.errorCount
	return ProviderUsage{
		Requests: total,
		Cost:     r.costPerRequest.Mul(decimal.NewFromUint64(r.successCount)),
	}
}
