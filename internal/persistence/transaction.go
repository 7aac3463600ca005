package persistence

import (
	"context"
	"time"

	"example.com/backstage/eventsearch/internal/metrics"
	"example.com/backstage/eventsearch/internal/models"
	"example.com/backstage/eventsearch/internal/search"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Transaction delimits a unit of work on the store. Index and cache updates
// are queued while it runs and applied after the store commit succeeds, so
// other persistence contexts never observe uncommitted state.
type Transaction struct {
	em *EntityManager

	db      *gorm.DB
	started time.Time
	work    []search.Work
	staged  map[string]*models.Event
	removed map[string]struct{}
}

// Begin starts a new transaction
func (t *Transaction) Begin(ctx context.Context) error {
	if err := t.em.checkOpen(); err != nil {
		return err
	}
	if t.IsActive() {
		return ErrTransactionActive
	}

	tx := t.em.factory.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return errors.Wrap(tx.Error, "failed to begin transaction")
	}

	t.db = tx
	t.started = time.Now()
	t.work = nil
	t.staged = make(map[string]*models.Event)
	t.removed = make(map[string]struct{})
	return nil
}

// IsActive reports whether Begin was called without a matching Commit or Rollback
func (t *Transaction) IsActive() bool {
	return t.db != nil
}

// Commit flushes managed changes, commits the store transaction, then
// applies queued index work and refreshes the second-level caches. Index
// changes are visible to queries once Commit returns.
func (t *Transaction) Commit(ctx context.Context) error {
	if err := t.em.checkOpen(); err != nil {
		return err
	}
	if !t.IsActive() {
		return ErrNoActiveTransaction
	}

	if err := t.em.flush(ctx); err != nil {
		t.db.Rollback()
		t.abort()
		t.em.metrics.RecordResult(metrics.TransactionCommit, err)
		return err
	}

	if err := t.db.Commit().Error; err != nil {
		t.abort()
		err = errors.Wrap(err, "failed to commit transaction")
		t.em.metrics.RecordResult(metrics.TransactionCommit, err)
		return err
	}

	work, staged, removed, started := t.work, t.staged, t.removed, t.started
	t.reset()

	for _, e := range staged {
		t.em.cache.put(ctx, e)
	}
	for id := range removed {
		t.em.cache.evict(ctx, id)
	}

	var err error
	if len(work) > 0 {
		if err = t.em.factory.searchFactory.Apply(ctx, work); err != nil {
			t.em.logger.Error().Err(err).Int("operations", len(work)).Msg("index out of sync with committed data")
		} else {
			t.em.metrics.IncrementCounterBy(metrics.IndexOperations, int64(len(work)))
		}
	}

	t.em.metrics.RecordResult(metrics.TransactionCommit, err)
	t.em.metrics.RecordDuration(metrics.TransactionCommit, time.Since(started))
	t.em.logger.Debug().
		Int("index_operations", len(work)).
		Dur("duration", time.Since(started)).
		Msg("transaction committed")
	return err
}

// Rollback discards store changes and queued index work. Every managed
// instance is detached.
func (t *Transaction) Rollback() error {
	if !t.IsActive() {
		return ErrNoActiveTransaction
	}
	err := t.db.Rollback().Error
	t.abort()
	if err != nil {
		return errors.Wrap(err, "failed to roll back transaction")
	}
	t.em.logger.Debug().Msg("transaction rolled back")
	return nil
}

func (t *Transaction) enqueueWrite(w search.Work, e *models.Event) {
	t.work = append(t.work, w)
	t.stage(e)
}

func (t *Transaction) enqueueDelete(id string) {
	t.work = append(t.work, search.DeleteWork(models.EventEntity, id))
	delete(t.staged, id)
	t.removed[id] = struct{}{}
}

// stage records the state of e as seen by this transaction. The latest
// staged state of every id is published to the caches on commit.
func (t *Transaction) stage(e *models.Event) {
	t.staged[e.ID] = e.Clone()
}

// stagedState returns a copy of the staged state of id
func (t *Transaction) stagedState(id string) (*models.Event, bool) {
	e, ok := t.staged[id]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

func (t *Transaction) isRemoved(id string) bool {
	_, ok := t.removed[id]
	return ok
}

// abort ends the transaction and detaches everything
func (t *Transaction) abort() {
	t.reset()
	t.em.Clear()
}

func (t *Transaction) reset() {
	t.db = nil
	t.work = nil
	t.staged = nil
	t.removed = nil
}
