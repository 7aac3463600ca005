// Package search provides the full-text index used by the persistence layer.
//
// Entities are indexed as documents keyed by their identifier, one index per
// entity type. Queries return identifiers and an exact hit count; loading the
// entities themselves is left to the caller.
package search

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DefaultMaxResults bounds result lists when no explicit limit is set
const DefaultMaxResults = 10000

// Indexable is implemented by entities stored in the full-text index
type Indexable interface {
	IndexID() string
	IndexFields() map[string]interface{}
}

// Operation is the kind of index change carried by a Work item
type Operation int

// Index operations
const (
	OpAdd Operation = iota
	OpUpdate
	OpDelete
)

func (o Operation) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Work is a single pending index change
type Work struct {
	Op     Operation
	Entity string
	ID     string
	Fields map[string]interface{}
}

// AddWork builds index work for a new entity
func AddWork(entity string, doc Indexable) Work {
	return Work{Op: OpAdd, Entity: entity, ID: doc.IndexID(), Fields: doc.IndexFields()}
}

// UpdateWork builds index work for a changed entity
func UpdateWork(entity string, doc Indexable) Work {
	return Work{Op: OpUpdate, Entity: entity, ID: doc.IndexID(), Fields: doc.IndexFields()}
}

// DeleteWork builds index work for a removed entity
func DeleteWork(entity, id string) Work {
	return Work{Op: OpDelete, Entity: entity, ID: id}
}

// Result is the outcome of a search request
type Result struct {
	Total int
	IDs   []string
}

// Backend is a full-text index implementation
type Backend interface {
	// Apply executes work synchronously; changes are visible to searches
	// issued after Apply returns.
	Apply(ctx context.Context, work []Work) error
	Search(ctx context.Context, q Query, from, size int) (Result, error)
	Purge(ctx context.Context, entity string) error
	Close() error
}

// Factory gives access to query builders and the index backend
type Factory struct {
	backend Backend
	logger  zerolog.Logger
}

// NewFactory creates a search factory on top of a backend
func NewFactory(backend Backend, logger zerolog.Logger) *Factory {
	return &Factory{backend: backend, logger: logger}
}

// BuildQueryBuilder starts a query builder context
func (f *Factory) BuildQueryBuilder() *QueryContextBuilder {
	return &QueryContextBuilder{}
}

// Apply forwards index work to the backend
func (f *Factory) Apply(ctx context.Context, work []Work) error {
	if len(work) == 0 {
		return nil
	}
	if err := f.backend.Apply(ctx, work); err != nil {
		return errors.Wrap(err, "failed to apply index work")
	}
	f.logger.Debug().Int("operations", len(work)).Msg("index work applied")
	return nil
}

// Search runs a query with paging
func (f *Factory) Search(ctx context.Context, q Query, from, size int) (Result, error) {
	if q.Entity == "" {
		return Result{}, errors.New("query has no target entity")
	}
	if from < 0 {
		from = 0
	}
	if size < 0 {
		size = DefaultMaxResults
	}
	res, err := f.backend.Search(ctx, q, from, size)
	if err != nil {
		return Result{}, errors.Wrapf(err, "failed to search %s index", q.Entity)
	}
	return res, nil
}

// Purge removes every document of an entity type
func (f *Factory) Purge(ctx context.Context, entity string) error {
	if err := f.backend.Purge(ctx, entity); err != nil {
		return errors.Wrapf(err, "failed to purge %s index", entity)
	}
	f.logger.Info().Str("entity", entity).Msg("index purged")
	return nil
}

// Close releases the backend
func (f *Factory) Close() error {
	return f.backend.Close()
}
