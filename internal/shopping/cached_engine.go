package shopping

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"diet-planner/internal/cache"
	"diet-planner/internal/metrics"
	"diet-planner/internal/planner"

	"golang.org/x/sync/singleflight"
)

const (
	aggregationPrefix = "shopping:agg:"
	collectPrefix     = "shopping:collect:"

	componentAggregation = "aggregation"
	componentCollect     = "collect"
)

// AggregationKey is the cache key of a generated list. The plan revision is
// part of the hashed input so entries written before a plan change are
// never served after it.
func AggregationKey(mealPlanID, revision int64, prefs Preferences) string {
	raw := fmt.Sprintf("kg=%t|l=%t|dozen=%t|budget=%t|rev=%d",
		prefs.PreferKgOverG, prefs.PreferLOverMl, prefs.GroupDozens, prefs.EstimateBudget, revision)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%d:%s", aggregationPrefix, mealPlanID, hex.EncodeToString(sum[:])[:16])
}

// CollectKey is the cache key of the collected usages of a plan revision.
func CollectKey(mealPlanID, revision int64) string {
	return fmt.Sprintf("%s%d:%d", collectPrefix, mealPlanID, revision)
}

// MealPlanPatterns returns the invalidation patterns covering every cache
// entry of a meal plan.
func MealPlanPatterns(mealPlanID int64) []string {
	return []string{
		fmt.Sprintf("%s%d:*", aggregationPrefix, mealPlanID),
		fmt.Sprintf("%s%d:*", collectPrefix, mealPlanID),
	}
}

// CachedEngine fronts an Engine with a cache. Cache failures are logged and
// counted, and generation falls back to recomputation.
type CachedEngine struct {
	engine  *Engine
	cache   cache.Cache
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
	group   singleflight.Group
}

// NewCachedEngine creates a CachedEngine.
func NewCachedEngine(engine *Engine, c cache.Cache, ttl time.Duration, m *metrics.Metrics, logger *slog.Logger) *CachedEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedEngine{engine: engine, cache: c, ttl: ttl, metrics: m, logger: logger}
}

// Generate returns the cached list for the plan revision and preferences,
// generating it on a miss. Concurrent misses for one key share a single
// generation; every caller receives its own copy.
func (c *CachedEngine) Generate(ctx context.Context, plan *planner.MealPlan, prefs Preferences) (*GeneratedList, error) {
	key := AggregationKey(plan.ID, plan.Revision, prefs)

	if data, ok := c.lookup(ctx, componentAggregation, key); ok {
		var list GeneratedList
		if err := json.Unmarshal(data, &list); err == nil {
			return &list, nil
		}
		c.logger.Warn("discarding undecodable cache entry", "key", key)
	}

	// The shared generation outlives the caller that started it; each caller
	// stops waiting on its own context.
	genCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		start := time.Now()

		collected, err := c.collect(genCtx, plan)
		if err != nil {
			return nil, err
		}
		list, err := c.engine.Build(genCtx, plan, collected, prefs)
		if err != nil {
			return nil, err
		}

		c.metrics.ObserveGeneration(time.Since(start))
		for _, f := range list.Statistics.SoftFailureDetails {
			c.metrics.SoftFailure(f.Kind)
		}

		data, err := json.Marshal(list)
		if err != nil {
			return nil, fmt.Errorf("failed to encode generated list: %w", err)
		}
		c.store(genCtx, componentAggregation, key, data)
		return data, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}

	var list GeneratedList
	if err := json.Unmarshal(res.Val.([]byte), &list); err != nil {
		return nil, fmt.Errorf("failed to decode generated list: %w", err)
	}
	return &list, nil
}

func (c *CachedEngine) collect(ctx context.Context, plan *planner.MealPlan) (*CollectResult, error) {
	key := CollectKey(plan.ID, plan.Revision)

	if data, ok := c.lookup(ctx, componentCollect, key); ok {
		var res CollectResult
		if err := json.Unmarshal(data, &res); err == nil {
			return &res, nil
		}
		c.logger.Warn("discarding undecodable cache entry", "key", key)
	}

	res, err := c.engine.Collect(ctx, plan)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(res); err == nil {
		c.store(ctx, componentCollect, key, data)
	}
	return res, nil
}

// InvalidateMealPlan drops every cache entry of the meal plan. Backend
// failures are logged and reported, never fatal to the caller.
func (c *CachedEngine) InvalidateMealPlan(ctx context.Context, mealPlanID int64, reason string) (int, error) {
	total := 0
	var errs []error
	for _, pattern := range MealPlanPatterns(mealPlanID) {
		n, err := c.cache.Invalidate(ctx, pattern)
		total += n
		if err != nil {
			c.metrics.CacheError(componentAggregation, "invalidate")
			c.logger.Warn("cache invalidation failed", "pattern", pattern, "error", err)
			errs = append(errs, err)
		}
	}
	c.metrics.CacheInvalidated(reason, total)
	c.logger.Debug("cache invalidated", "meal_plan_id", mealPlanID, "reason", reason, "keys", total)
	return total, errors.Join(errs...)
}

func (c *CachedEngine) lookup(ctx context.Context, component, key string) ([]byte, bool) {
	data, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.metrics.CacheError(component, "get")
		c.logger.Warn("cache read failed, recomputing", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		c.metrics.CacheMiss(component)
		return nil, false
	}
	c.metrics.CacheHit(component)
	return data, true
}

func (c *CachedEngine) store(ctx context.Context, component, key string, data []byte) {
	if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
		c.metrics.CacheError(component, "set")
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
}
