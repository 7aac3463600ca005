package search

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/pkg/errors"
)

const purgeBatch = 1000

// BleveBackend is an embedded index backend. Each entity type gets its own
// index, kept in memory when dir is empty and on disk otherwise.
type BleveBackend struct {
	dir string

	mu      sync.Mutex
	indexes map[string]bleve.Index
}

// NewBleveBackend creates an embedded backend rooted at dir
func NewBleveBackend(dir string) *BleveBackend {
	return &BleveBackend{
		dir:     dir,
		indexes: make(map[string]bleve.Index),
	}
}

func (b *BleveBackend) index(entity string) (bleve.Index, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if idx, ok := b.indexes[entity]; ok {
		return idx, nil
	}

	var (
		idx bleve.Index
		err error
	)
	if b.dir == "" {
		idx, err = bleve.NewMemOnly(bleve.NewIndexMapping())
	} else {
		path := filepath.Join(b.dir, strings.ToLower(entity)+".bleve")
		idx, err = bleve.Open(path)
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			idx, err = bleve.New(path, bleve.NewIndexMapping())
		}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s index", entity)
	}

	b.indexes[entity] = idx
	return idx, nil
}

// Apply groups work per entity and commits one batch per index
func (b *BleveBackend) Apply(_ context.Context, work []Work) error {
	batches := make(map[string]*bleve.Batch)
	indexes := make(map[string]bleve.Index)

	for _, w := range work {
		batch, ok := batches[w.Entity]
		if !ok {
			idx, err := b.index(w.Entity)
			if err != nil {
				return err
			}
			batch = idx.NewBatch()
			batches[w.Entity] = batch
			indexes[w.Entity] = idx
		}

		switch w.Op {
		case OpAdd, OpUpdate:
			if err := batch.Index(w.ID, w.Fields); err != nil {
				return errors.Wrapf(err, "failed to index %s %s", w.Entity, w.ID)
			}
		case OpDelete:
			batch.Delete(w.ID)
		}
	}

	for entity, batch := range batches {
		if err := indexes[entity].Batch(batch); err != nil {
			return errors.Wrapf(err, "failed to commit %s index batch", entity)
		}
	}
	return nil
}

// Search executes q against the entity index
func (b *BleveBackend) Search(ctx context.Context, q Query, from, size int) (Result, error) {
	idx, err := b.index(q.Entity)
	if err != nil {
		return Result{}, err
	}

	req := bleve.NewSearchRequestOptions(toBleveQuery(q), size, from, false)
	req.SortBy([]string{"_id"})

	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return Result{}, errors.Wrap(err, "bleve search failed")
	}

	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return Result{Total: int(res.Total), IDs: ids}, nil
}

// Purge deletes every document in the entity index
func (b *BleveBackend) Purge(ctx context.Context, entity string) error {
	idx, err := b.index(entity)
	if err != nil {
		return err
	}

	for {
		req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), purgeBatch, 0, false)
		res, err := idx.SearchInContext(ctx, req)
		if err != nil {
			return errors.Wrap(err, "bleve search failed")
		}
		if len(res.Hits) == 0 {
			return nil
		}

		batch := idx.NewBatch()
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
		if err := idx.Batch(batch); err != nil {
			return errors.Wrapf(err, "failed to purge %s index", entity)
		}
	}
}

// Close closes every open index
func (b *BleveBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	for entity, idx := range b.indexes {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "failed to close %s index", entity)
		}
		delete(b.indexes, entity)
	}
	return firstErr
}

func toBleveQuery(q Query) query.Query {
	switch q.Kind {
	case KindMatch:
		mq := bleve.NewMatchQuery(q.Text)
		mq.SetField(q.Field)
		return mq
	default:
		return bleve.NewMatchAllQuery()
	}
}
