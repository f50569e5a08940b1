package router

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// healthLoop probes every provider on a fixed interval and drives the
// circuit breaker recovery path. It runs until Close and never blocks the
// dispatcher; probes use their own timeout, independent of any caller.
func (rt *Router) healthLoop() {
	ticker := time.NewTicker(rt.routing.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rt.stopCh:
			return
		case <-ticker.C:
			rt.checkAll()
		}
	}
}

func (rt *Router) checkAll() {
	for _, rec := range rt.records {
		if !rec.isEnabled() {
			continue
		}
		rt.checkOne(rec)
	}
}

func (rt *Router) checkOne(rec *record) {
	if rec.state() == StateOpen {
		if !rec.halfOpenDue(rt.routing.CircuitBreakerTimeout) {
			// Still cooling down; leave the breaker alone.
			return
		}
		// One recovery probe. Success closes the breaker, failure
		// restarts the timeout window.
		if rt.probe(rec) {
			rt.emit(rec.close("probe_succeeded"))
		} else {
			rt.emit(rec.reopen("probe_failed"))
		}
		return
	}

	if !rt.probe(rec) {
		rt.emit(rec.open("health_check_failed"))
		return
	}

	// Slow-degradation detection: a provider can answer probes while its
	// real traffic degrades.
	h := rec.health()
	total := rec.stats()
	observed := total.SuccessCount + total.ErrorCount
	if rt.routing.MaxErrorRate > 0 && observed >= minErrorSample && h.ErrorRate > rt.routing.MaxErrorRate {
		rt.emit(rec.open("error_rate_exceeded"))
		return
	}
	if rt.routing.MaxLatencyMs > 0 && h.LatencyMs > rt.routing.MaxLatencyMs {
		rt.emit(rec.open("latency_exceeded"))
	}
}

func (rt *Router) probe(rec *record) bool {
	ctx, cancel := context.WithTimeout(context.Background(), rt.routing.HealthCheckTimeout)
	defer cancel()

	ok, err := rec.handle.HealthCheck(ctx)
	if err != nil {
		rt.log.Debug("health check failed",
			zap.String("provider", rec.name),
			zap.Error(err))
		return false
	}
	return ok
}
