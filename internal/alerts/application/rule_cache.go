package application

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	alerts "greenhouse-cloud/internal/alerts/domain"
)

// DefaultRuleLoadTimeout bounds one shared rule load.
const DefaultRuleLoadTimeout = 5 * time.Second

// RuleCache caches enabled rules per sensor until explicitly invalidated.
type RuleCache struct {
	store       RuleStore
	loadTimeout time.Duration

	mu         sync.RWMutex
	bySensor   map[string][]alerts.AlertRule
	generation map[string]uint64
	epoch      uint64
	group      singleflight.Group
}

// RuleCacheOption customizes the rule cache.
type RuleCacheOption func(*RuleCache)

// WithRuleLoadTimeout overrides DefaultRuleLoadTimeout.
func WithRuleLoadTimeout(timeout time.Duration) RuleCacheOption {
	return func(c *RuleCache) {
		if timeout > 0 {
			c.loadTimeout = timeout
		}
	}
}

// NewRuleCache constructs a rule cache over store.
func NewRuleCache(store RuleStore, opts ...RuleCacheOption) (*RuleCache, error) {
	if store == nil {
		return nil, errors.New("rule cache: nil rule store")
	}
	c := &RuleCache{
		store:       store,
		loadTimeout: DefaultRuleLoadTimeout,
		bySensor:    make(map[string][]alerts.AlertRule),
		generation:  make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetActiveRules returns enabled rules for sensorID ordered by descending severity.
// The returned slice must not be modified. Concurrent misses share one load; a
// load started before an invalidation is never shared with later callers. The
// load is detached from ctx so one caller's deadline cannot fail the others.
func (c *RuleCache) GetActiveRules(ctx context.Context, sensorID string) ([]alerts.AlertRule, error) {
	c.mu.RLock()
	rules, ok := c.bySensor[sensorID]
	gen, epoch := c.generation[sensorID], c.epoch
	c.mu.RUnlock()
	if ok {
		return rules, nil
	}

	key := sensorID + "|" + strconv.FormatUint(gen, 10) + "|" + strconv.FormatUint(epoch, 10)
	loaded, err, _ := c.group.Do(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()
		list, err := c.store.ListEnabledBySensor(loadCtx, sensorID)
		if err != nil {
			return nil, &alerts.TransientStoreError{Op: "list rules", Err: err}
		}
		active := make([]alerts.AlertRule, 0, len(list))
		for _, rule := range list {
			if rule.Enabled {
				active = append(active, rule)
			}
		}
		sortBySeverity(active)

		c.mu.Lock()
		// An invalidation that raced with the load wins; the stale list is not cached.
		if c.generation[sensorID] == gen && c.epoch == epoch {
			c.bySensor[sensorID] = active
		}
		c.mu.Unlock()
		return active, nil
	})
	if err != nil {
		return nil, err
	}
	return loaded.([]alerts.AlertRule), nil
}

// InvalidateCache drops the cached rules for sensorID.
func (c *RuleCache) InvalidateCache(sensorID string) {
	c.mu.Lock()
	delete(c.bySensor, sensorID)
	c.generation[sensorID]++
	c.mu.Unlock()
}

// InvalidateAll drops every cached sensor.
func (c *RuleCache) InvalidateAll() {
	c.mu.Lock()
	c.bySensor = make(map[string][]alerts.AlertRule)
	c.epoch++
	c.mu.Unlock()
}

func sortBySeverity(rules []alerts.AlertRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		ri, rj := rules[i].Severity.Rank(), rules[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return rules[i].ID < rules[j].ID
	})
}
