package router

import "sort"

// rank orders enabled providers from most to least preferred for one call.
// It works on snapshots and never mutates records; the only mutable piece is
// the round-robin cursor, owned by the router.
func (rt *Router) rank() []view {
	views := make([]view, 0, len(rt.records))
	for _, rec := range rt.records {
		v := rec.snapshot()
		if !v.enabled {
			continue
		}
		views = append(views, v)
	}
	if len(views) == 0 {
		return views
	}

	switch rt.policy() {
	case PolicyHealthFirst:
		sort.SliceStable(views, func(i, j int) bool {
			if views[i].healthy != views[j].healthy {
				return views[i].healthy
			}
			if views[i].errorRate != views[j].errorRate {
				return views[i].errorRate < views[j].errorRate
			}
			return views[i].priority < views[j].priority
		})
	case PolicyLatencyBased:
		sort.SliceStable(views, func(i, j int) bool {
			if views[i].latencyMs != views[j].latencyMs {
				return views[i].latencyMs < views[j].latencyMs
			}
			return views[i].priority < views[j].priority
		})
	case PolicyCostBased:
		sort.SliceStable(views, func(i, j int) bool {
			if !views[i].cost.Equal(views[j].cost) {
				return views[i].cost.LessThan(views[j].cost)
			}
			return views[i].priority < views[j].priority
		})
	case PolicyRoundRobin:
		// Primary rotates through the enabled set in configuration order;
		// the rest stay in configuration order as failover candidates.
		rt.rrMu.Lock()
		cursor := rt.rrCursor % len(views)
		rt.rrCursor = (rt.rrCursor + 1) % len(views)
		rt.rrMu.Unlock()

		rotated := make([]view, 0, len(views))
		rotated = append(rotated, views[cursor])
		for i, v := range views {
			if i != cursor {
				rotated = append(rotated, v)
			}
		}
		return rotated
	}

	return views
}
