package persistence

import (
	"context"
	"time"

	"example.com/backstage/eventsearch/internal/metrics"
	"example.com/backstage/eventsearch/internal/models"
	"example.com/backstage/eventsearch/internal/repositories"
	"example.com/backstage/eventsearch/internal/search"

	"github.com/pkg/errors"
)

// ObjectLookupMethod selects where matched entities are looked up before the
// store is queried
type ObjectLookupMethod int

// Lookup methods
const (
	LookupSkip ObjectLookupMethod = iota
	LookupPersistenceContext
	LookupSecondLevelCache
)

// DatabaseRetrievalMethod selects how entities missing from the lookup are
// loaded from the store
type DatabaseRetrievalMethod int

// Retrieval methods
const (
	RetrievalQuery DatabaseRetrievalMethod = iota
	RetrievalFindByID
)

// FullTextQuery executes a search query and re-hydrates the matched entities
// from the store
type FullTextQuery struct {
	em    *EntityManager
	query search.Query

	firstResult int
	maxResults  int
	lookup      ObjectLookupMethod
	retrieval   DatabaseRetrievalMethod
}

func newFullTextQuery(em *EntityManager, q search.Query) *FullTextQuery {
	return &FullTextQuery{
		em:         em,
		query:      q,
		maxResults: -1,
		lookup:     LookupSkip,
		retrieval:  RetrievalQuery,
	}
}

// InitializeObjectsWith sets the lookup and retrieval strategies
func (q *FullTextQuery) InitializeObjectsWith(lookup ObjectLookupMethod, retrieval DatabaseRetrievalMethod) *FullTextQuery {
	q.lookup = lookup
	q.retrieval = retrieval
	return q
}

// SetFirstResult sets the offset of the first hit returned by ResultList
func (q *FullTextQuery) SetFirstResult(n int) *FullTextQuery {
	if n < 0 {
		n = 0
	}
	q.firstResult = n
	return q
}

// SetMaxResults limits the number of hits returned by ResultList
func (q *FullTextQuery) SetMaxResults(n int) *FullTextQuery {
	q.maxResults = n
	return q
}

// ResultSize returns the exact number of index hits, ignoring paging
func (q *FullTextQuery) ResultSize(ctx context.Context) (int, error) {
	if err := q.check(); err != nil {
		return 0, err
	}

	start := time.Now()
	res, err := q.em.factory.searchFactory.Search(ctx, q.query, 0, 0)
	q.em.metrics.RecordDuration(metrics.FullTextQuery, time.Since(start))
	q.em.metrics.RecordResult(metrics.FullTextQuery, err)
	if err != nil {
		return 0, err
	}
	return res.Total, nil
}

// ResultList returns the matched entities in hit order. Hits whose row no
// longer exists are skipped.
func (q *FullTextQuery) ResultList(ctx context.Context) ([]*models.Event, error) {
	if err := q.check(); err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := q.em.factory.searchFactory.Search(ctx, q.query, q.firstResult, q.maxResults)
	q.em.metrics.RecordDuration(metrics.FullTextQuery, time.Since(start))
	q.em.metrics.RecordResult(metrics.FullTextQuery, err)
	if err != nil {
		return nil, err
	}

	return q.hydrate(ctx, res.IDs)
}

func (q *FullTextQuery) check() error {
	if err := q.em.checkOpen(); err != nil {
		return err
	}
	if q.query.Entity != models.EventEntity {
		return errors.Errorf("unknown entity type %q", q.query.Entity)
	}
	return nil
}

func (q *FullTextQuery) hydrate(ctx context.Context, ids []string) ([]*models.Event, error) {
	em := q.em
	found := make(map[string]*models.Event, len(ids))
	missing := make([]string, 0, len(ids))

	for _, id := range ids {
		if q.lookup >= LookupPersistenceContext {
			if me, ok := em.managed[id]; ok {
				found[id] = me.entity
				continue
			}
		}
		if q.lookup == LookupSecondLevelCache {
			if e, ok := em.cached(ctx, id); ok {
				found[id] = em.manage(e)
				continue
			}
		}
		missing = append(missing, id)
	}

	if len(missing) > 0 {
		loaded, err := q.load(ctx, missing)
		if err != nil {
			return nil, err
		}
		for id, e := range loaded {
			if _, managed := em.managed[id]; !managed {
				em.cacheLoaded(ctx, e)
			}
			found[id] = em.manage(e)
		}
	}

	results := make([]*models.Event, 0, len(ids))
	for _, id := range ids {
		if e, ok := found[id]; ok {
			results = append(results, e)
		} else {
			em.logger.Debug().Str("id", id).Msg("index hit without matching row")
		}
	}
	return results, nil
}

func (q *FullTextQuery) load(ctx context.Context, ids []string) (map[string]*models.Event, error) {
	em := q.em
	if q.retrieval == RetrievalQuery {
		return em.repo.GetByIDs(ctx, em.conn(), ids)
	}

	loaded := make(map[string]*models.Event, len(ids))
	for _, id := range ids {
		e, err := em.repo.GetByID(ctx, em.conn(), id)
		if errors.Is(err, repositories.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		loaded[id] = e
	}
	return loaded, nil
}
