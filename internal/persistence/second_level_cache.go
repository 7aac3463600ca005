package persistence

import (
	"context"
	"encoding/json"
	"time"

	"example.com/backstage/eventsearch/internal/cache"
	"example.com/backstage/eventsearch/internal/metrics"
	"example.com/backstage/eventsearch/internal/models"

	"github.com/rs/zerolog"
)

const logRole = "log"

// cachedEvent is the ENTITIES cache value. The log lives in ASSOCIATIONS.
type cachedEvent struct {
	ID    string    `json:"id"`
	Title string    `json:"title"`
	Date  time.Time `json:"date"`
}

// secondLevelCache reads and writes event state in the named caches.
// Cache failures are logged and treated as misses; the store stays
// authoritative.
type secondLevelCache struct {
	entities     cache.Cache
	associations cache.Cache
	logger       zerolog.Logger
	metrics      *metrics.Metrics
}

func newSecondLevelCache(f *EntityManagerFactory) *secondLevelCache {
	return &secondLevelCache{
		entities:     f.caches.GetCache(cache.EntitiesCache),
		associations: f.caches.GetCache(cache.AssociationsCache),
		logger:       f.logger,
		metrics:      f.metrics,
	}
}

func (c *secondLevelCache) get(ctx context.Context, id string) (*models.Event, bool) {
	body, ok, err := c.entities.Get(ctx, cache.EntityKey(models.EventEntity, id))
	if err != nil {
		c.logger.Warn().Err(err).Str("id", id).Msg("entity cache read failed")
	}
	if err != nil || !ok {
		c.metrics.IncrementCounter(metrics.CacheMisses)
		return nil, false
	}

	var cached cachedEvent
	if err := json.Unmarshal(body, &cached); err != nil {
		c.logger.Warn().Err(err).Str("id", id).Msg("discarding unreadable cache entry")
		c.metrics.IncrementCounter(metrics.CacheMisses)
		return nil, false
	}

	body, ok, err = c.associations.Get(ctx, cache.AssociationKey(models.EventEntity, id, logRole))
	if err != nil {
		c.logger.Warn().Err(err).Str("id", id).Msg("association cache read failed")
	}
	if err != nil || !ok {
		c.metrics.IncrementCounter(metrics.CacheMisses)
		return nil, false
	}

	log := []string{}
	if err := json.Unmarshal(body, &log); err != nil {
		c.logger.Warn().Err(err).Str("id", id).Msg("discarding unreadable cache entry")
		c.metrics.IncrementCounter(metrics.CacheMisses)
		return nil, false
	}

	c.metrics.IncrementCounter(metrics.CacheHits)
	return &models.Event{
		ID:    cached.ID,
		Title: cached.Title,
		Date:  cached.Date,
		Log:   log,
	}, true
}

func (c *secondLevelCache) put(ctx context.Context, e *models.Event) {
	body, err := json.Marshal(cachedEvent{ID: e.ID, Title: e.Title, Date: e.Date})
	if err != nil {
		c.logger.Warn().Err(err).Str("id", e.ID).Msg("failed to encode cache entry")
		return
	}
	if err := c.entities.Put(ctx, cache.EntityKey(models.EventEntity, e.ID), body); err != nil {
		c.logger.Warn().Err(err).Str("id", e.ID).Msg("entity cache write failed")
		return
	}

	log := e.Log
	if log == nil {
		log = []string{}
	}
	body, err = json.Marshal(log)
	if err != nil {
		c.logger.Warn().Err(err).Str("id", e.ID).Msg("failed to encode cache entry")
		return
	}
	if err := c.associations.Put(ctx, cache.AssociationKey(models.EventEntity, e.ID, logRole), body); err != nil {
		c.logger.Warn().Err(err).Str("id", e.ID).Msg("association cache write failed")
	}
}

func (c *secondLevelCache) evict(ctx context.Context, id string) {
	if err := c.entities.Remove(ctx, cache.EntityKey(models.EventEntity, id)); err != nil {
		c.logger.Warn().Err(err).Str("id", id).Msg("entity cache eviction failed")
	}
	if err := c.associations.Remove(ctx, cache.AssociationKey(models.EventEntity, id, logRole)); err != nil {
		c.logger.Warn().Err(err).Str("id", id).Msg("association cache eviction failed")
	}
}
