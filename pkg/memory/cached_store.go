package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"citrine/pkg/cache"

	"go.uber.org/zap"
)

// CachedStore answers GetLatestEvents from a capped redis list so the idle
// loop's epoch polling does not hit the database ten times a second.
// Everything else passes through to the wrapped Store.
type CachedStore struct {
	Store
	cache *cache.Cache
	log   *zap.Logger

	// writeMu orders list writes by epoch: an append holds it from the store
	// write to the push, and a refill from the store read to the rewrite.
	writeMu sync.Mutex
}

func NewCachedStore(store Store, cache *cache.Cache, logger *zap.Logger) *CachedStore {
	return &CachedStore{
		Store: store,
		cache: cache,
		log:   logger,
	}
}

func (c *CachedStore) eventsKey() string {
	return c.cache.Key("events", "latest")
}

func (c *CachedStore) AppendEvent(ctx context.Context, document string, metadata map[string]string) (Event, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	e, err := c.Store.AppendEvent(ctx, document, metadata)
	if err != nil {
		return Event{}, err
	}

	eventJSON, marshalErr := json.Marshal(e)
	if marshalErr != nil {
		return e, nil
	}
	if pushErr := c.cache.PushCapped(ctx, c.eventsKey(), cache.LatestEventsCap, cache.LatestEventsTTL, string(eventJSON)); pushErr != nil {
		// A stale list would hide new epochs; drop it and let the next read refill.
		c.log.Warn("Failed to cache event, invalidating", zap.Error(pushErr))
		_ = c.cache.Delete(ctx, c.eventsKey())
	}
	return e, nil
}

func (c *CachedStore) GetLatestEvents(ctx context.Context, n int) ([]Event, error) {
	if n <= 0 {
		return nil, nil
	}
	if n <= cache.LatestEventsCap {
		data, err := c.cache.LRange(ctx, c.eventsKey(), 0, int64(n-1))
		if err == nil && len(data) > 0 {
			var events []Event
			for _, d := range data {
				var e Event
				if unmarshalErr := json.Unmarshal([]byte(d), &e); unmarshalErr != nil {
					continue
				}
				events = append(events, e)
			}
			// A short list may predate the cache; only a full answer is trusted.
			if len(events) == n {
				return events, nil
			}
		}
	}

	c.writeMu.Lock()
	events, err := c.Store.GetLatestEvents(ctx, max(n, cache.LatestEventsCap))
	if err != nil {
		c.writeMu.Unlock()
		return nil, err
	}
	c.refill(ctx, events)
	c.writeMu.Unlock()
	if len(events) > n {
		events = events[:n]
	}
	return events, nil
}

// refill rebuilds the list from newest-first events.
func (c *CachedStore) refill(ctx context.Context, events []Event) {
	if len(events) == 0 {
		return
	}
	if len(events) > cache.LatestEventsCap {
		events = events[:cache.LatestEventsCap]
	}

	values := make([]string, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		eventJSON, err := json.Marshal(events[i])
		if err != nil {
			return
		}
		values = append(values, string(eventJSON))
	}

	key := c.eventsKey()
	_ = c.cache.Delete(ctx, key)
	if err := c.cache.PushCapped(ctx, key, cache.LatestEventsCap, cache.LatestEventsTTL, values...); err != nil {
		c.log.Debug("Failed to refill event cache", zap.Error(err))
	}
}

// PruneRecords forwards to the wrapped store when it supports pruning.
func (c *CachedStore) PruneRecords(ctx context.Context, kind string, filter map[string]string, before time.Time) (int, error) {
	if p, ok := c.Store.(Pruner); ok {
		return p.PruneRecords(ctx, kind, filter, before)
	}
	return 0, nil
}
