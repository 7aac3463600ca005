package search

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	id    string
	title string
}

func (d doc) IndexID() string { return d.id }

func (d doc) IndexFields() map[string]interface{} {
	return map[string]interface{}{"title": d.title}
}

func newTestFactory(t *testing.T, backend Backend) *Factory {
	t.Helper()
	f := NewFactory(backend, zerolog.Nop())
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func seed(t *testing.T, f *Factory, entity string, n int) {
	t.Helper()
	work := make([]Work, 0, n)
	for i := 0; i < n; i++ {
		work = append(work, AddWork(entity, doc{id: fmt.Sprintf("id-%02d", i), title: fmt.Sprintf("Event %d", i)}))
	}
	require.NoError(t, f.Apply(context.Background(), work))
}

func TestBleveMatchAll(t *testing.T) {
	ctx := context.Background()
	f := newTestFactory(t, NewBleveBackend(""))
	seed(t, f, "Event", 10)

	q := f.BuildQueryBuilder().ForEntity("Event").Get().All()
	res, err := f.Search(ctx, q, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Total)
	assert.Empty(t, res.IDs)

	res, err = f.Search(ctx, q, 0, DefaultMaxResults)
	require.NoError(t, err)
	assert.Len(t, res.IDs, 10)
	assert.Equal(t, "id-00", res.IDs[0])

	res, err = f.Search(ctx, q, 8, 5)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Total)
	assert.Equal(t, []string{"id-08", "id-09"}, res.IDs)
}

func TestBleveKeyword(t *testing.T) {
	ctx := context.Background()
	f := newTestFactory(t, NewBleveBackend(""))
	seed(t, f, "Event", 10)

	q := f.BuildQueryBuilder().ForEntity("Event").Get().Keyword("title", "7")
	res, err := f.Search(ctx, q, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, []string{"id-07"}, res.IDs)
}

func TestBleveEntitiesAreSeparated(t *testing.T) {
	ctx := context.Background()
	f := newTestFactory(t, NewBleveBackend(""))
	seed(t, f, "Event", 3)
	seed(t, f, "Other", 2)

	res, err := f.Search(ctx, f.BuildQueryBuilder().ForEntity("Other").Get().All(), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
}

func TestBleveUpdateDeleteAndPurge(t *testing.T) {
	ctx := context.Background()
	f := newTestFactory(t, NewBleveBackend(""))
	seed(t, f, "Event", 5)

	require.NoError(t, f.Apply(ctx, []Work{
		UpdateWork("Event", doc{id: "id-00", title: "renamed"}),
		DeleteWork("Event", "id-01"),
	}))

	qb := f.BuildQueryBuilder().ForEntity("Event").Get()
	res, err := f.Search(ctx, qb.All(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Total)

	res, err = f.Search(ctx, qb.Keyword("title", "renamed"), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"id-00"}, res.IDs)

	require.NoError(t, f.Purge(ctx, "Event"))
	res, err = f.Search(ctx, qb.All(), 0, 0)
	require.NoError(t, err)
	assert.Zero(t, res.Total)
}

func TestBleveOnDiskReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	backend := NewBleveBackend(dir)
	f := NewFactory(backend, zerolog.Nop())
	seed(t, f, "Event", 3)
	require.NoError(t, f.Close())

	f = newTestFactory(t, NewBleveBackend(dir))
	res, err := f.Search(ctx, f.BuildQueryBuilder().ForEntity("Event").Get().All(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
}

func TestSearchRequiresEntity(t *testing.T) {
	f := newTestFactory(t, NewBleveBackend(""))
	_, err := f.Search(context.Background(), Query{}, 0, 10)
	require.Error(t, err)
}

func TestOperationString(t *testing.T) {
	assert.Equal(t, "add", OpAdd.String())
	assert.Equal(t, "delete", OpDelete.String())
	assert.Equal(t, "unknown", Operation(9).String())
}
