package persistence

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"example.com/backstage/eventsearch/config"
	"example.com/backstage/eventsearch/internal/cache"
	"example.com/backstage/eventsearch/internal/database"
	"example.com/backstage/eventsearch/internal/metrics"
	"example.com/backstage/eventsearch/internal/models"
	"example.com/backstage/eventsearch/internal/search"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Connect(config.DatabaseConfig{
		Driver:       config.DriverSQLite,
		DSN:          "file:" + filepath.Join(t.TempDir(), "events.db"),
		MaxOpenConns: 1,
	}, zerolog.Nop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	require.NoError(t, database.Migrate(db))
	return db
}

type EventSearchSuite struct {
	suite.Suite

	ctx     context.Context
	db      *gorm.DB
	caches  *cache.Manager
	search  *search.Factory
	metrics *metrics.Metrics
	factory *EntityManagerFactory
	em      *EntityManager
}

func (s *EventSearchSuite) SetupTest() {
	s.ctx = context.Background()
	s.db = openTestDB(s.T())

	caches, err := cache.NewManager(cache.DefaultConfig())
	s.Require().NoError(err)
	s.caches = caches

	s.search = search.NewFactory(search.NewBleveBackend(""), zerolog.Nop())
	s.metrics = metrics.NewMetrics()

	factory, err := NewEntityManagerFactory("ogm-demo", s.db, s.caches, s.search, WithMetrics(s.metrics))
	s.Require().NoError(err)
	s.factory = factory
	s.em = factory.CreateEntityManager()
}

func (s *EventSearchSuite) TearDownTest() {
	if s.em.IsOpen() {
		s.NoError(s.em.Close())
	}
	if s.factory.IsOpen() {
		s.NoError(s.factory.Close())
	}
}

func (s *EventSearchSuite) matchAll(em *EntityManager) *FullTextQuery {
	q := em.SearchFactory().BuildQueryBuilder().ForEntity(models.EventEntity).Get().All()
	return em.CreateFullTextQuery(q)
}

func (s *EventSearchSuite) keyword(em *EntityManager, text string) *FullTextQuery {
	q := em.SearchFactory().BuildQueryBuilder().ForEntity(models.EventEntity).Get().Keyword("title", text)
	return em.CreateFullTextQuery(q)
}

// persistEvents stores n events in their own transaction and clears the context
func (s *EventSearchSuite) persistEvents(n int) []*models.Event {
	tx := s.em.Transaction()
	s.Require().NoError(tx.Begin(s.ctx))

	events := make([]*models.Event, 0, n)
	for i := 0; i < n; i++ {
		e := models.NewEvent(fmt.Sprintf("Event %d", i), time.Now())
		s.Require().NoError(s.em.Persist(s.ctx, e))
		events = append(events, e)
	}

	s.Require().NoError(tx.Commit(s.ctx))
	s.em.Clear()
	return events
}

func (s *EventSearchSuite) resultSize(em *EntityManager) int {
	size, err := s.matchAll(em).ResultSize(s.ctx)
	s.Require().NoError(err)
	return size
}

func (s *EventSearchSuite) TestInsertQueryDelete() {
	tx := s.em.Transaction()
	s.Require().NoError(tx.Begin(s.ctx))
	for i := 0; i < 10; i++ {
		e := models.NewEvent(fmt.Sprintf("Event %d", i), time.Now())
		s.Empty(e.ID)
		s.Require().NoError(s.em.Persist(s.ctx, e))
		s.NotEmpty(e.ID)
		s.True(s.em.Contains(e))
	}
	s.Require().NoError(tx.Commit(s.ctx))
	s.em.Clear()

	s.Require().NoError(tx.Begin(s.ctx))
	q := s.matchAll(s.em)
	size, err := q.ResultSize(s.ctx)
	s.Require().NoError(err)
	s.Equal(10, size)

	list, err := q.ResultList(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(list, 10)

	titles := make([]string, 0, len(list))
	ids := make(map[string]struct{}, len(list))
	expected := make([]string, 0, 10)
	for i, e := range list {
		titles = append(titles, e.Title)
		ids[e.ID] = struct{}{}
		expected = append(expected, fmt.Sprintf("Event %d", i))
	}
	s.ElementsMatch(expected, titles)
	s.Len(ids, 10)
	s.Require().NoError(tx.Commit(s.ctx))
	s.em.Clear()

	s.Require().NoError(tx.Begin(s.ctx))
	list, err = s.matchAll(s.em).ResultList(s.ctx)
	s.Require().NoError(err)
	for _, e := range list {
		s.Require().NoError(s.em.Remove(s.ctx, e))
		s.False(s.em.Contains(e))
	}
	s.Require().NoError(tx.Commit(s.ctx))
	s.em.Clear()

	s.Require().NoError(tx.Begin(s.ctx))
	s.Equal(0, s.resultSize(s.em))
	s.Require().NoError(tx.Commit(s.ctx))

	s.Equal(int64(10), s.metrics.Counter(metrics.EntitiesPersisted))
	s.Equal(int64(10), s.metrics.Counter(metrics.EntitiesRemoved))
	s.Equal(int64(20), s.metrics.Counter(metrics.IndexOperations))
}

func (s *EventSearchSuite) TestPersistOutsideTransaction() {
	e := models.NewEvent("Event 0", time.Now())
	err := s.em.Persist(s.ctx, e)
	s.ErrorIs(err, ErrNoActiveTransaction)
	s.Empty(e.ID)
}

func (s *EventSearchSuite) TestPersistDetachedInstance() {
	events := s.persistEvents(1)

	s.Require().NoError(s.em.Transaction().Begin(s.ctx))
	s.ErrorIs(s.em.Persist(s.ctx, events[0]), ErrDetachedEntity)

	withID := models.NewEvent("Event x", time.Now())
	withID.ID = "assigned-by-hand"
	s.ErrorIs(s.em.Persist(s.ctx, withID), ErrDetachedEntity)
	s.Require().NoError(s.em.Transaction().Rollback())
}

func (s *EventSearchSuite) TestPersistManagedInstanceIsNoop() {
	tx := s.em.Transaction()
	s.Require().NoError(tx.Begin(s.ctx))

	e := models.NewEvent("Event 0", time.Now())
	s.Require().NoError(s.em.Persist(s.ctx, e))
	id := e.ID
	s.Require().NoError(s.em.Persist(s.ctx, e))
	s.Equal(id, e.ID)
	s.Require().NoError(tx.Commit(s.ctx))

	s.Equal(1, s.resultSize(s.em))
}

func (s *EventSearchSuite) TestRemoveRequiresManagedInstance() {
	events := s.persistEvents(1)

	s.ErrorIs(s.em.Remove(s.ctx, events[0]), ErrNoActiveTransaction)

	tx := s.em.Transaction()
	s.Require().NoError(tx.Begin(s.ctx))
	s.ErrorIs(s.em.Remove(s.ctx, events[0]), ErrEntityNotManaged)
	s.ErrorIs(s.em.Remove(s.ctx, nil), ErrEntityNotManaged)

	found, err := s.em.Find(s.ctx, events[0].ID)
	s.Require().NoError(err)
	s.Require().NoError(s.em.Remove(s.ctx, found))
	s.Require().NoError(tx.Commit(s.ctx))

	_, err = s.em.Find(s.ctx, events[0].ID)
	s.ErrorIs(err, ErrEntityNotFound)
	s.Equal(0, s.resultSize(s.em))
}

func (s *EventSearchSuite) TestTransactionState() {
	tx := s.em.Transaction()
	s.False(tx.IsActive())
	s.ErrorIs(tx.Commit(s.ctx), ErrNoActiveTransaction)
	s.ErrorIs(tx.Rollback(), ErrNoActiveTransaction)

	s.Require().NoError(tx.Begin(s.ctx))
	s.True(tx.IsActive())
	s.ErrorIs(tx.Begin(s.ctx), ErrTransactionActive)
	s.Require().NoError(tx.Commit(s.ctx))
	s.False(tx.IsActive())
}

func (s *EventSearchSuite) TestRollbackDiscardsWork() {
	tx := s.em.Transaction()
	s.Require().NoError(tx.Begin(s.ctx))

	events := make([]*models.Event, 0, 3)
	for i := 0; i < 3; i++ {
		e := models.NewEvent(fmt.Sprintf("Event %d", i), time.Now())
		s.Require().NoError(s.em.Persist(s.ctx, e))
		events = append(events, e)
	}
	s.Equal(0, s.resultSize(s.em), "index work is applied on commit only")

	s.Require().NoError(tx.Rollback())
	for _, e := range events {
		s.False(s.em.Contains(e))
	}

	s.Equal(0, s.resultSize(s.em))
	_, err := s.em.Find(s.ctx, events[0].ID)
	s.ErrorIs(err, ErrEntityNotFound)
}

func (s *EventSearchSuite) TestDirtyCheckReindexes() {
	tx := s.em.Transaction()
	s.Require().NoError(tx.Begin(s.ctx))
	e := models.NewEvent("Event 1", time.Now())
	s.Require().NoError(s.em.Persist(s.ctx, e))
	s.Require().NoError(tx.Commit(s.ctx))

	s.Require().NoError(tx.Begin(s.ctx))
	e.Title = "Renamed"
	e.AddLogEntry("title changed")
	s.Require().NoError(tx.Commit(s.ctx))
	s.em.Clear()

	size, err := s.keyword(s.em, "renamed").ResultSize(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, size)

	size, err = s.keyword(s.em, "event").ResultSize(s.ctx)
	s.Require().NoError(err)
	s.Equal(0, size)

	s.Require().NoError(tx.Begin(s.ctx))
	list, err := s.keyword(s.em, "renamed").ResultList(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal([]string{"title changed"}, list[0].Log)
	s.Require().NoError(tx.Commit(s.ctx))

	s.Equal(int64(1), s.metrics.Counter(metrics.EntitiesUpdated))
}

func (s *EventSearchSuite) TestUnchangedEntityIsNotFlushed() {
	events := s.persistEvents(1)

	tx := s.em.Transaction()
	s.Require().NoError(tx.Begin(s.ctx))
	_, err := s.em.Find(s.ctx, events[0].ID)
	s.Require().NoError(err)
	s.Require().NoError(s.em.Flush(s.ctx))
	s.Require().NoError(tx.Commit(s.ctx))

	s.Zero(s.metrics.Counter(metrics.EntitiesUpdated))
}

func (s *EventSearchSuite) TestFindUsesSecondLevelCache() {
	events := s.persistEvents(1)
	id := events[0].ID

	entries, err := s.caches.GetCache(cache.EntitiesCache).Entries(s.ctx)
	s.Require().NoError(err)
	s.Contains(entries, cache.EntityKey(models.EventEntity, id))

	entries, err = s.caches.GetCache(cache.AssociationsCache).Entries(s.ctx)
	s.Require().NoError(err)
	s.Contains(entries, cache.AssociationKey(models.EventEntity, id, "log"))

	// the row is gone but the cached state is still served
	s.Require().NoError(s.db.Exec("DELETE FROM events WHERE id = ?", id).Error)

	found, err := s.em.Find(s.ctx, id)
	s.Require().NoError(err)
	s.True(found.Equal(events[0]))
	s.Equal(int64(1), s.metrics.Counter(metrics.CacheHits))

	again, err := s.em.Find(s.ctx, id)
	s.Require().NoError(err)
	s.Same(found, again)
}

func (s *EventSearchSuite) TestFindLoadsFromStoreOnCacheMiss() {
	events := s.persistEvents(1)
	id := events[0].ID
	s.Require().NoError(s.caches.GetCache(cache.EntitiesCache).Clear(s.ctx))

	found, err := s.em.Find(s.ctx, id)
	s.Require().NoError(err)
	s.Equal("Event 0", found.Title)
	s.Equal(int64(1), s.metrics.Counter(metrics.CacheMisses))

	_, ok, err := s.caches.GetCache(cache.EntitiesCache).Get(s.ctx, cache.EntityKey(models.EventEntity, id))
	s.Require().NoError(err)
	s.True(ok)

	_, err = s.em.Find(s.ctx, "missing")
	s.ErrorIs(err, ErrEntityNotFound)
}

func (s *EventSearchSuite) TestResultListLookupStrategies() {
	tx := s.em.Transaction()
	s.Require().NoError(tx.Begin(s.ctx))
	managed := make(map[string]*models.Event)
	for i := 0; i < 5; i++ {
		e := models.NewEvent(fmt.Sprintf("Event %d", i), time.Now())
		s.Require().NoError(s.em.Persist(s.ctx, e))
		managed[e.ID] = e
	}
	s.Require().NoError(tx.Commit(s.ctx))

	list, err := s.matchAll(s.em).
		InitializeObjectsWith(LookupPersistenceContext, RetrievalQuery).
		ResultList(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(list, 5)
	for _, e := range list {
		s.Same(managed[e.ID], e)
	}

	s.em.Clear()
	list, err = s.matchAll(s.em).
		InitializeObjectsWith(LookupSecondLevelCache, RetrievalFindByID).
		ResultList(s.ctx)
	s.Require().NoError(err)
	s.Len(list, 5)
	s.Equal(int64(5), s.metrics.Counter(metrics.CacheHits))

	s.em.Clear()
	list, err = s.matchAll(s.em).
		InitializeObjectsWith(LookupSkip, RetrievalFindByID).
		ResultList(s.ctx)
	s.Require().NoError(err)
	s.Len(list, 5)
}

func (s *EventSearchSuite) TestResultListPaging() {
	s.persistEvents(10)

	q := s.matchAll(s.em).SetFirstResult(2).SetMaxResults(3)
	list, err := q.ResultList(s.ctx)
	s.Require().NoError(err)
	s.Len(list, 3)

	size, err := q.ResultSize(s.ctx)
	s.Require().NoError(err)
	s.Equal(10, size)
}

func (s *EventSearchSuite) TestResultListSkipsVanishedRows() {
	events := s.persistEvents(3)
	s.Require().NoError(s.db.Exec("DELETE FROM events WHERE id = ?", events[1].ID).Error)

	list, err := s.matchAll(s.em).ResultList(s.ctx)
	s.Require().NoError(err)
	s.Len(list, 2)
	for _, e := range list {
		s.NotEqual(events[1].ID, e.ID)
	}
}

func (s *EventSearchSuite) TestUnknownEntityQuery() {
	q := s.search.BuildQueryBuilder().ForEntity("Other").Get().All()
	_, err := s.em.CreateFullTextQuery(q).ResultSize(s.ctx)
	s.Error(err)
}

func (s *EventSearchSuite) TestCloseRollsBackActiveTransaction() {
	tx := s.em.Transaction()
	s.Require().NoError(tx.Begin(s.ctx))
	e := models.NewEvent("Event 0", time.Now())
	s.Require().NoError(s.em.Persist(s.ctx, e))

	s.Require().NoError(s.em.Close())
	s.False(s.em.IsOpen())
	s.ErrorIs(s.em.Persist(s.ctx, models.NewEvent("late", time.Now())), ErrEntityManagerClosed)
	s.ErrorIs(tx.Begin(s.ctx), ErrEntityManagerClosed)
	s.ErrorIs(s.em.Close(), ErrEntityManagerClosed)

	other := s.factory.CreateEntityManager()
	defer other.Close()
	_, err := other.Find(s.ctx, e.ID)
	s.ErrorIs(err, ErrEntityNotFound)
}

func (s *EventSearchSuite) TestFactoryClose() {
	s.Require().NoError(s.factory.Close())
	s.False(s.factory.IsOpen())
	s.ErrorIs(s.factory.Close(), ErrFactoryClosed)

	em := s.factory.CreateEntityManager()
	s.False(em.IsOpen())
	s.ErrorIs(em.Transaction().Begin(s.ctx), ErrEntityManagerClosed)

	_, err := s.factory.MassIndexer().StartAndWait(s.ctx)
	s.ErrorIs(err, ErrFactoryClosed)
}

func (s *EventSearchSuite) TestMassIndexerRebuildsIndex() {
	s.persistEvents(25)
	s.Require().NoError(s.search.Purge(s.ctx, models.EventEntity))
	s.Equal(0, s.resultSize(s.em))

	indexed, err := s.factory.MassIndexer().
		BatchSizeToLoadObjects(7).
		ThreadsToLoadObjects(3).
		StartAndWait(s.ctx)
	s.Require().NoError(err)
	s.Equal(25, indexed)
	s.Equal(25, s.resultSize(s.em))
}

func (s *EventSearchSuite) TestMassIndexerRemovesStaleDocuments() {
	events := s.persistEvents(3)
	s.Require().NoError(s.db.Exec("DELETE FROM events WHERE id = ?", events[1].ID).Error)

	ghost := models.NewEvent("Ghost", time.Now())
	ghost.ID = "never-stored"
	s.Require().NoError(s.search.Apply(s.ctx, []search.Work{search.AddWork(models.EventEntity, ghost)}))
	s.Equal(4, s.resultSize(s.em))

	indexed, err := s.factory.MassIndexer().BatchSizeToLoadObjects(1).StartAndWait(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, indexed)
	s.Equal(2, s.resultSize(s.em))

	list, err := s.matchAll(s.em).ResultList(s.ctx)
	s.Require().NoError(err)
	s.Len(list, 2)
}

func (s *EventSearchSuite) TestMassIndexerPurgeAllOnStart() {
	s.persistEvents(4)
	ghost := models.NewEvent("Ghost", time.Now())
	ghost.ID = "never-stored"
	s.Require().NoError(s.search.Apply(s.ctx, []search.Work{search.AddWork(models.EventEntity, ghost)}))

	indexed, err := s.factory.MassIndexer().PurgeAllOnStart(true).StartAndWait(s.ctx)
	s.Require().NoError(err)
	s.Equal(4, indexed)
	s.Equal(4, s.resultSize(s.em))
}

func (s *EventSearchSuite) TestFindAfterRemoveInSameTransaction() {
	events := s.persistEvents(1)
	id := events[0].ID

	tx := s.em.Transaction()
	s.Require().NoError(tx.Begin(s.ctx))
	found, err := s.em.Find(s.ctx, id)
	s.Require().NoError(err)
	s.Require().NoError(s.em.Remove(s.ctx, found))

	_, err = s.em.Find(s.ctx, id)
	s.ErrorIs(err, ErrEntityNotFound)
	s.False(s.em.Contains(found))

	// still indexed until commit, but the cached state must not resurface
	list, err := s.matchAll(s.em).
		InitializeObjectsWith(LookupSecondLevelCache, RetrievalQuery).
		ResultList(s.ctx)
	s.Require().NoError(err)
	s.Empty(list)
	s.Require().NoError(tx.Commit(s.ctx))

	_, err = s.em.Find(s.ctx, id)
	s.ErrorIs(err, ErrEntityNotFound)
}

func (s *EventSearchSuite) TestRollbackKeepsUncommittedStateOutOfCaches() {
	events := s.persistEvents(1)
	id := events[0].ID
	s.Require().NoError(s.caches.GetCache(cache.EntitiesCache).Clear(s.ctx))

	tx := s.em.Transaction()
	s.Require().NoError(tx.Begin(s.ctx))
	found, err := s.em.Find(s.ctx, id)
	s.Require().NoError(err)
	found.Title = "uncommitted"
	s.Require().NoError(s.em.Flush(s.ctx))
	s.em.Clear()

	again, err := s.em.Find(s.ctx, id)
	s.Require().NoError(err)
	s.Equal("uncommitted", again.Title)

	s.em.Clear()
	list, err := s.matchAll(s.em).ResultList(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal("uncommitted", list[0].Title)

	_, ok, err := s.caches.GetCache(cache.EntitiesCache).Get(s.ctx, cache.EntityKey(models.EventEntity, id))
	s.Require().NoError(err)
	s.False(ok, "nothing is cached before commit")

	s.Require().NoError(tx.Rollback())

	other := s.factory.CreateEntityManager()
	defer other.Close()
	loaded, err := other.Find(s.ctx, id)
	s.Require().NoError(err)
	s.Equal("Event 0", loaded.Title)
}

func (s *EventSearchSuite) TestCommitPublishesLoadedState() {
	events := s.persistEvents(1)
	id := events[0].ID
	entities := s.caches.GetCache(cache.EntitiesCache)
	s.Require().NoError(entities.Clear(s.ctx))

	tx := s.em.Transaction()
	s.Require().NoError(tx.Begin(s.ctx))
	found, err := s.em.Find(s.ctx, id)
	s.Require().NoError(err)
	found.Title = "Renamed"
	s.Require().NoError(tx.Commit(s.ctx))

	other := s.factory.CreateEntityManager()
	defer other.Close()
	cached, err := other.Find(s.ctx, id)
	s.Require().NoError(err)
	s.Equal("Renamed", cached.Title)
	s.Equal(int64(1), s.metrics.Counter(metrics.CacheHits))
}

func TestEventSearchSuite(t *testing.T) {
	suite.Run(t, new(EventSearchSuite))
}

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) Apply(ctx context.Context, work []search.Work) error {
	args := m.Called(ctx, work)
	return args.Error(0)
}

func (m *mockBackend) Search(ctx context.Context, q search.Query, from, size int) (search.Result, error) {
	args := m.Called(ctx, q, from, size)
	return args.Get(0).(search.Result), args.Error(1)
}

func (m *mockBackend) Purge(ctx context.Context, entity string) error {
	args := m.Called(ctx, entity)
	return args.Error(0)
}

func (m *mockBackend) Close() error {
	args := m.Called()
	return args.Error(0)
}

func TestCommitReportsIndexFailure(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	backend := new(mockBackend)
	backend.On("Apply", mock.Anything, mock.MatchedBy(func(work []search.Work) bool {
		return len(work) == 1 && work[0].Op == search.OpAdd && work[0].Entity == models.EventEntity
	})).Return(errors.New("index unavailable"))
	backend.On("Close").Return(nil).Maybe()

	caches, err := cache.NewManager(cache.DefaultConfig())
	require.NoError(t, err)

	factory, err := NewEntityManagerFactory("ogm-demo", db, caches, search.NewFactory(backend, zerolog.Nop()))
	require.NoError(t, err)
	defer factory.Close()

	em := factory.CreateEntityManager()
	defer em.Close()

	require.NoError(t, em.Transaction().Begin(ctx))
	e := models.NewEvent("Event 0", time.Now())
	require.NoError(t, em.Persist(ctx, e))

	err = em.Transaction().Commit(ctx)
	assert.Error(t, err)
	assert.False(t, em.Transaction().IsActive())

	// the store commit went through
	em.Clear()
	found, err := em.Find(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Event 0", found.Title)

	backend.AssertExpectations(t)
}

// observingBackend records the smallest match-all total seen after each apply
type observingBackend struct {
	search.Backend

	mu       sync.Mutex
	minTotal int
}

func (b *observingBackend) Apply(ctx context.Context, work []search.Work) error {
	if err := b.Backend.Apply(ctx, work); err != nil {
		return err
	}
	res, err := b.Backend.Search(ctx, search.Query{Entity: models.EventEntity, Kind: search.KindMatchAll}, 0, 0)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.minTotal < 0 || res.Total < b.minTotal {
		b.minTotal = res.Total
	}
	return nil
}

func (b *observingBackend) smallestTotal() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.minTotal
}

func TestMassIndexerKeepsIndexComplete(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	backend := &observingBackend{Backend: search.NewBleveBackend(""), minTotal: -1}
	caches, err := cache.NewManager(cache.DefaultConfig())
	require.NoError(t, err)

	factory, err := NewEntityManagerFactory("ogm-demo", db, caches, search.NewFactory(backend, zerolog.Nop()))
	require.NoError(t, err)
	defer factory.Close()

	em := factory.CreateEntityManager()
	defer em.Close()

	require.NoError(t, em.Transaction().Begin(ctx))
	for i := 0; i < 20; i++ {
		require.NoError(t, em.Persist(ctx, models.NewEvent(fmt.Sprintf("Event %d", i), time.Now())))
	}
	require.NoError(t, em.Transaction().Commit(ctx))
	assert.Equal(t, 20, backend.smallestTotal())

	indexed, err := factory.MassIndexer().
		BatchSizeToLoadObjects(1).
		ThreadsToLoadObjects(1).
		StartAndWait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, indexed)
	assert.Equal(t, 20, backend.smallestTotal())
}

func TestNewEntityManagerFactoryValidates(t *testing.T) {
	db := openTestDB(t)
	caches, err := cache.NewManager(cache.DefaultConfig())
	require.NoError(t, err)
	sf := search.NewFactory(search.NewBleveBackend(""), zerolog.Nop())

	_, err = NewEntityManagerFactory("ogm-demo", nil, caches, sf)
	assert.Error(t, err)
	_, err = NewEntityManagerFactory("ogm-demo", db, nil, sf)
	assert.Error(t, err)
	_, err = NewEntityManagerFactory("ogm-demo", db, caches, nil)
	assert.Error(t, err)

	f, err := NewEntityManagerFactory("ogm-demo", db, caches, sf)
	require.NoError(t, err)
	assert.Equal(t, "ogm-demo", f.Unit())
	assert.Same(t, caches, f.Caches())
	require.NoError(t, f.Close())
}
