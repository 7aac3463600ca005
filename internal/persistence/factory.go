// Package persistence maps Event instances onto the relational store, keeps
// the full-text index in step with committed writes and serves reads through
// the second-level caches.
//
// An EntityManager is a unit of work bound to a single goroutine. The
// EntityManagerFactory it comes from is safe for concurrent use.
package persistence

import (
	"sync"

	"example.com/backstage/eventsearch/internal/cache"
	"example.com/backstage/eventsearch/internal/metrics"
	"example.com/backstage/eventsearch/internal/repositories"
	"example.com/backstage/eventsearch/internal/search"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Option configures an EntityManagerFactory
type Option func(*EntityManagerFactory)

// WithLogger sets the factory logger
func WithLogger(logger zerolog.Logger) Option {
	return func(f *EntityManagerFactory) {
		f.logger = logger
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *EntityManagerFactory) {
		f.metrics = m
	}
}

// EntityManagerFactory owns the store, cache and index handles of a
// persistence unit and hands out entity managers.
type EntityManagerFactory struct {
	unit          string
	db            *gorm.DB
	caches        *cache.Manager
	searchFactory *search.Factory
	repo          *repositories.EventRepository
	logger        zerolog.Logger
	metrics       *metrics.Metrics

	mu     sync.Mutex
	closed bool
}

// NewEntityManagerFactory creates the factory of a persistence unit
func NewEntityManagerFactory(unit string, db *gorm.DB, caches *cache.Manager, searchFactory *search.Factory, opts ...Option) (*EntityManagerFactory, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}
	if caches == nil {
		return nil, errors.New("cache manager is required")
	}
	if searchFactory == nil {
		return nil, errors.New("search factory is required")
	}

	f := &EntityManagerFactory{
		unit:          unit,
		db:            db,
		caches:        caches,
		searchFactory: searchFactory,
		repo:          repositories.NewEventRepository(),
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With().Str("persistence_unit", unit).Logger()

	f.logger.Info().Msg("entity manager factory started")
	return f, nil
}

// Unit returns the persistence unit name
func (f *EntityManagerFactory) Unit() string {
	return f.unit
}

// SearchFactory returns the search factory used to build queries
func (f *EntityManagerFactory) SearchFactory() *search.Factory {
	return f.searchFactory
}

// Caches returns the cache manager
func (f *EntityManagerFactory) Caches() *cache.Manager {
	return f.caches
}

// IsOpen reports whether the factory can still create entity managers
func (f *EntityManagerFactory) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

// CreateEntityManager opens a new unit of work. Managers created after Close
// fail every operation with ErrEntityManagerClosed.
func (f *EntityManagerFactory) CreateEntityManager() *EntityManager {
	em := newEntityManager(f)
	if !f.IsOpen() {
		em.closed = true
	}
	return em
}

// Close releases the index and cache manager
func (f *EntityManagerFactory) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFactoryClosed
	}
	f.closed = true
	f.mu.Unlock()

	var firstErr error
	if err := f.searchFactory.Close(); err != nil {
		firstErr = errors.Wrap(err, "failed to close search factory")
	}
	if err := f.caches.Close(); err != nil && firstErr == nil {
		firstErr = errors.Wrap(err, "failed to close cache manager")
	}

	f.logger.Info().Msg("entity manager factory closed")
	return firstErr
}
