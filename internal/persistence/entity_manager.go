package persistence

import (
	"context"
	"slices"
	"time"

	"example.com/backstage/eventsearch/internal/metrics"
	"example.com/backstage/eventsearch/internal/models"
	"example.com/backstage/eventsearch/internal/repositories"
	"example.com/backstage/eventsearch/internal/search"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// snapshot is the loaded state an entity is compared against when flushing
type snapshot struct {
	title string
	date  time.Time
	log   []string
}

func takeSnapshot(e *models.Event) snapshot {
	return snapshot{
		title: e.Title,
		date:  e.Date,
		log:   slices.Clone(e.Log),
	}
}

func (s snapshot) dirty(e *models.Event) bool {
	return s.title != e.Title || !s.date.Equal(e.Date) || !slices.Equal(s.log, e.Log)
}

type managedEntity struct {
	entity   *models.Event
	snapshot snapshot
}

// EntityManager is the persistence context of one unit of work. It tracks
// the instances it loaded or persisted and writes their changes on commit.
type EntityManager struct {
	factory *EntityManagerFactory
	repo    *repositories.EventRepository
	cache   *secondLevelCache
	logger  zerolog.Logger
	metrics *metrics.Metrics

	tx      *Transaction
	managed map[string]*managedEntity
	closed  bool
}

func newEntityManager(f *EntityManagerFactory) *EntityManager {
	em := &EntityManager{
		factory: f,
		repo:    f.repo,
		cache:   newSecondLevelCache(f),
		logger:  f.logger,
		metrics: f.metrics,
		managed: make(map[string]*managedEntity),
	}
	em.tx = &Transaction{em: em}
	return em
}

// Transaction returns the transaction handle of this manager
func (em *EntityManager) Transaction() *Transaction {
	return em.tx
}

// SearchFactory returns the search factory of the persistence unit
func (em *EntityManager) SearchFactory() *search.Factory {
	return em.factory.searchFactory
}

// Persist makes a transient event durable and managed. The identifier is
// assigned here. Persisting an already managed instance is a no-op.
func (em *EntityManager) Persist(ctx context.Context, e *models.Event) error {
	if err := em.checkOpen(); err != nil {
		return err
	}
	if !em.tx.IsActive() {
		return ErrNoActiveTransaction
	}
	if e == nil {
		return errors.New("cannot persist a nil entity")
	}
	if em.Contains(e) {
		return nil
	}
	if e.ID != "" {
		return errors.Wrapf(ErrDetachedEntity, "%s#%s", models.EventEntity, e.ID)
	}
	if e.Log == nil {
		e.Log = []string{}
	}

	e.ID = uuid.NewString()
	if err := em.repo.Create(ctx, em.tx.db, e); err != nil {
		e.ID = ""
		return errors.Wrap(err, "failed to persist event")
	}

	em.manage(e)
	em.tx.enqueueWrite(search.AddWork(models.EventEntity, e), e)
	em.metrics.IncrementCounter(metrics.EntitiesPersisted)

	em.logger.Debug().Str("id", e.ID).Str("title", e.Title).Msg("event persisted")
	return nil
}

// Remove deletes a managed event. The instance is detached afterwards.
func (em *EntityManager) Remove(ctx context.Context, e *models.Event) error {
	if err := em.checkOpen(); err != nil {
		return err
	}
	if !em.tx.IsActive() {
		return ErrNoActiveTransaction
	}
	if !em.Contains(e) {
		if e == nil {
			return ErrEntityNotManaged
		}
		return errors.Wrapf(ErrEntityNotManaged, "%s#%s", models.EventEntity, e.ID)
	}

	if err := em.repo.Delete(ctx, em.tx.db, e.ID); err != nil {
		return errors.Wrap(err, "failed to remove event")
	}

	delete(em.managed, e.ID)
	em.tx.enqueueDelete(e.ID)
	em.metrics.IncrementCounter(metrics.EntitiesRemoved)
	em.updateGauge()

	em.logger.Debug().Str("id", e.ID).Msg("event removed")
	return nil
}

// Find returns the event with the given id, looking in the persistence
// context, then the second-level caches, then the store. An event removed
// by the active transaction is not found.
func (em *EntityManager) Find(ctx context.Context, id string) (*models.Event, error) {
	if err := em.checkOpen(); err != nil {
		return nil, err
	}
	if me, ok := em.managed[id]; ok {
		return me.entity, nil
	}
	if em.tx.IsActive() && em.tx.isRemoved(id) {
		return nil, errors.Wrapf(ErrEntityNotFound, "%s#%s", models.EventEntity, id)
	}

	if e, ok := em.cached(ctx, id); ok {
		return em.manage(e), nil
	}

	e, err := em.repo.GetByID(ctx, em.conn(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, errors.Wrapf(ErrEntityNotFound, "%s#%s", models.EventEntity, id)
		}
		return nil, err
	}

	em.cacheLoaded(ctx, e)
	return em.manage(e), nil
}

// Flush writes pending changes of managed entities to the store without
// committing.
func (em *EntityManager) Flush(ctx context.Context) error {
	if err := em.checkOpen(); err != nil {
		return err
	}
	if !em.tx.IsActive() {
		return ErrNoActiveTransaction
	}
	return em.flush(ctx)
}

// CreateFullTextQuery wraps a search query for execution against this
// persistence context
func (em *EntityManager) CreateFullTextQuery(q search.Query) *FullTextQuery {
	return newFullTextQuery(em, q)
}

// Contains reports whether e is the managed instance for its id
func (em *EntityManager) Contains(e *models.Event) bool {
	if e == nil || e.ID == "" {
		return false
	}
	me, ok := em.managed[e.ID]
	return ok && me.entity == e
}

// Clear detaches every managed instance. Unflushed changes are lost.
func (em *EntityManager) Clear() {
	em.managed = make(map[string]*managedEntity)
	em.updateGauge()
}

// IsOpen reports whether the manager can still be used
func (em *EntityManager) IsOpen() bool {
	return !em.closed
}

// Close rolls back an active transaction and releases the manager
func (em *EntityManager) Close() error {
	if em.closed {
		return ErrEntityManagerClosed
	}

	var err error
	if em.tx.IsActive() {
		err = em.tx.Rollback()
	}
	em.Clear()
	em.closed = true
	return err
}

func (em *EntityManager) checkOpen() error {
	if em.closed {
		return ErrEntityManagerClosed
	}
	return nil
}

// conn returns the active transaction or the root connection
func (em *EntityManager) conn() *gorm.DB {
	if em.tx.IsActive() {
		return em.tx.db
	}
	return em.factory.db
}

// cached looks id up in the state staged by the active transaction, then
// in the shared second-level caches. Ids removed by the transaction miss.
func (em *EntityManager) cached(ctx context.Context, id string) (*models.Event, bool) {
	if em.tx.IsActive() {
		if em.tx.isRemoved(id) {
			return nil, false
		}
		if e, ok := em.tx.stagedState(id); ok {
			return e, true
		}
	}
	return em.cache.get(ctx, id)
}

// cacheLoaded publishes a row read from the store. Rows read inside a
// transaction may carry its uncommitted changes and are held back until
// commit.
func (em *EntityManager) cacheLoaded(ctx context.Context, e *models.Event) {
	if em.tx.IsActive() {
		em.tx.stage(e)
		return
	}
	em.cache.put(ctx, e)
}

// manage registers e in the persistence context. If another instance with
// the same id is already managed, that instance wins and is returned.
func (em *EntityManager) manage(e *models.Event) *models.Event {
	if me, ok := em.managed[e.ID]; ok {
		return me.entity
	}
	em.managed[e.ID] = &managedEntity{entity: e, snapshot: takeSnapshot(e)}
	em.updateGauge()
	return e
}

func (em *EntityManager) flush(ctx context.Context) error {
	for id, me := range em.managed {
		if !me.snapshot.dirty(me.entity) {
			continue
		}
		if err := em.repo.Update(ctx, em.tx.db, me.entity); err != nil {
			return errors.Wrapf(err, "failed to flush %s#%s", models.EventEntity, id)
		}
		me.snapshot = takeSnapshot(me.entity)
		em.tx.enqueueWrite(search.UpdateWork(models.EventEntity, me.entity), me.entity)
		em.metrics.IncrementCounter(metrics.EntitiesUpdated)

		em.logger.Debug().Str("id", id).Msg("event updated")
	}
	return nil
}

func (em *EntityManager) updateGauge() {
	em.metrics.SetGauge(metrics.ManagedEntities, int64(len(em.managed)))
}
