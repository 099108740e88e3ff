package store

import (
	"sync"
	"time"
)

// planStatusCache is a small in-process TTL cache for get_execution_plan_status
// (spec §4.1), avoiding a join query on every PlanBridge poll.
type planStatusCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]planStatusCacheEntry
}

type planStatusCacheEntry struct {
	status    string
	expiresAt time.Time
}

func newPlanStatusCache(ttl time.Duration) *planStatusCache {
	return &planStatusCache{ttl: ttl, entries: map[string]planStatusCacheEntry{}}
}

func (c *planStatusCache) get(planID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[planID]
	if !ok || time.Now().After(e.expiresAt) {
		return "", false
	}
	return e.status, true
}

func (c *planStatusCache) set(planID, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[planID] = planStatusCacheEntry{status: status, expiresAt: time.Now().Add(c.ttl)}
}

// invalidate drops any cached entry for planID, used whenever the plan's
// persisted status changes.
func (c *planStatusCache) invalidate(planID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, planID)
}
