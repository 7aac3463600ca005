package persistence

import (
	"context"
	"sync/atomic"
	"time"

	"example.com/backstage/eventsearch/internal/metrics"
	"example.com/backstage/eventsearch/internal/models"
	"example.com/backstage/eventsearch/internal/search"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBatchSize = 100
	defaultThreads   = 4
)

// MassIndexer rebuilds the full-text index from the store
type MassIndexer struct {
	factory   *EntityManagerFactory
	batchSize int
	threads   int
	purge     bool
}

// MassIndexer creates an indexer for the persistence unit
func (f *EntityManagerFactory) MassIndexer() *MassIndexer {
	return &MassIndexer{
		factory:   f,
		batchSize: defaultBatchSize,
		threads:   defaultThreads,
	}
}

// BatchSizeToLoadObjects sets how many rows are loaded and indexed per batch
func (m *MassIndexer) BatchSizeToLoadObjects(n int) *MassIndexer {
	if n > 0 {
		m.batchSize = n
	}
	return m
}

// ThreadsToLoadObjects bounds the number of batches processed in parallel
func (m *MassIndexer) ThreadsToLoadObjects(n int) *MassIndexer {
	if n > 0 {
		m.threads = n
	}
	return m
}

// PurgeAllOnStart empties the index before rebuilding it. Queries served
// while the rebuild runs see a partial index.
func (m *MassIndexer) PurgeAllOnStart(purge bool) *MassIndexer {
	m.purge = purge
	return m
}

// StartAndWait writes every stored event to the index, then deletes the
// documents whose row no longer exists. Unless PurgeAllOnStart is set the
// index keeps serving complete results while it runs. It returns the number
// of documents written.
func (m *MassIndexer) StartAndWait(ctx context.Context) (int, error) {
	f := m.factory
	if !f.IsOpen() {
		return 0, ErrFactoryClosed
	}

	start := time.Now()
	if m.purge {
		if err := f.searchFactory.Purge(ctx, models.EventEntity); err != nil {
			return 0, err
		}
	}

	total, err := f.repo.Count(ctx, f.db)
	if err != nil {
		return 0, err
	}

	var indexed int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.threads)

	for offset := 0; offset < int(total); offset += m.batchSize {
		g.Go(func() error {
			n, err := m.indexBatch(gctx, offset)
			if err != nil {
				return errors.Wrapf(err, "failed to index batch at offset %d", offset)
			}
			atomic.AddInt64(&indexed, int64(n))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return int(atomic.LoadInt64(&indexed)), err
	}

	stale, err := m.removeStale(ctx)
	if err != nil {
		return int(indexed), errors.Wrap(err, "failed to remove stale documents")
	}

	f.metrics.IncrementCounterBy(metrics.IndexOperations, indexed+int64(stale))
	f.logger.Info().
		Int64("documents", indexed).
		Int("stale", stale).
		Dur("duration", time.Since(start)).
		Msg("mass indexing completed")
	return int(indexed), nil
}

func (m *MassIndexer) indexBatch(ctx context.Context, offset int) (int, error) {
	f := m.factory

	ids, err := f.repo.ListIDs(ctx, f.db, offset, m.batchSize)
	if err != nil {
		return 0, err
	}
	events, err := f.repo.GetByIDs(ctx, f.db, ids)
	if err != nil {
		return 0, err
	}

	work := make([]search.Work, 0, len(events))
	for _, id := range ids {
		if e, ok := events[id]; ok {
			work = append(work, search.UpdateWork(models.EventEntity, e))
		}
	}
	if err := f.searchFactory.Apply(ctx, work); err != nil {
		return 0, err
	}
	return len(work), nil
}

// removeStale deletes index documents without a stored row. This covers rows
// removed while their batch was between load and apply.
func (m *MassIndexer) removeStale(ctx context.Context) (int, error) {
	f := m.factory
	q := f.searchFactory.BuildQueryBuilder().ForEntity(models.EventEntity).Get().All()

	var stale []string
	for from := 0; ; from += m.batchSize {
		if from >= search.DefaultMaxResults {
			f.logger.Warn().Int("checked", from).Msg("stale document sweep stopped at the result window")
			break
		}
		size := min(m.batchSize, search.DefaultMaxResults-from)
		res, err := f.searchFactory.Search(ctx, q, from, size)
		if err != nil {
			return 0, err
		}
		if len(res.IDs) == 0 {
			break
		}

		existing, err := f.repo.ExistingIDs(ctx, f.db, res.IDs)
		if err != nil {
			return 0, err
		}
		for _, id := range res.IDs {
			if _, ok := existing[id]; !ok {
				stale = append(stale, id)
			}
		}

		if len(res.IDs) < size || from+len(res.IDs) >= res.Total {
			break
		}
	}

	if len(stale) == 0 {
		return 0, nil
	}

	work := make([]search.Work, 0, len(stale))
	for _, id := range stale {
		work = append(work, search.DeleteWork(models.EventEntity, id))
	}
	if err := f.searchFactory.Apply(ctx, work); err != nil {
		return 0, err
	}
	return len(stale), nil
}
