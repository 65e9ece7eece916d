package crowd

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rl1809/order-stream/internal/port"
)

const readingKey = "crowd"

// CachedEstimator serves recent readings from a cache and collapses
// concurrent misses into one call to the underlying estimator.
type CachedEstimator struct {
	next  port.CrowdEstimator
	cache port.ReadingCache
	ttl   time.Duration
	group singleflight.Group
	log   *zap.Logger
}

func NewCachedEstimator(next port.CrowdEstimator, cache port.ReadingCache, ttl time.Duration, log *zap.Logger) *CachedEstimator {
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedEstimator{next: next, cache: cache, ttl: ttl, log: log}
}

func (c *CachedEstimator) Estimate(ctx context.Context) (float64, error) {
	if v, ok, err := c.cache.GetReading(ctx, readingKey); err != nil {
		c.log.Warn("reading cache get failed", zap.Error(err))
	} else if ok {
		return v, nil
	}

	v, err, shared := c.group.Do(readingKey, func() (interface{}, error) {
		// Callers share this run; one of them going away must not fail the rest.
		detached := context.WithoutCancel(ctx)
		fresh, err := c.next.Estimate(detached)
		if err != nil {
			return 0.0, err
		}
		if err := c.cache.SetReading(detached, readingKey, fresh, c.ttl); err != nil {
			c.log.Warn("reading cache set failed", zap.Error(err))
		}
		return fresh, nil
	})
	if err != nil {
		return 0, err
	}
	c.log.Debug("crowd estimate", zap.Float64("value", v.(float64)), zap.Bool("shared", shared))
	return v.(float64), nil
}
