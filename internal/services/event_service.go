package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"example.com/backstage/eventsearch/internal/cache"
	"example.com/backstage/eventsearch/internal/models"
	"example.com/backstage/eventsearch/internal/persistence"
	"example.com/backstage/eventsearch/internal/search"
	"example.com/backstage/eventsearch/internal/tracing"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// EventService handles event-related business logic. Every call runs in its
// own entity manager and transaction.
type EventService struct {
	factory *persistence.EntityManagerFactory
	tracer  tracing.Tracer
	logger  zerolog.Logger
}

// DemoReport summarises a run of the insert, query and delete scenario
type DemoReport struct {
	Inserted  int      `json:"inserted"`
	Found     int      `json:"found"`
	Titles    []string `json:"titles"`
	Deleted   int      `json:"deleted"`
	Remaining int      `json:"remaining"`
}

// NewEventService creates a new event service
func NewEventService(
	factory *persistence.EntityManagerFactory,
	tracer tracing.Tracer,
	logger zerolog.Logger,
) *EventService {
	if tracer == nil {
		tracer = tracing.Noop()
	}
	return &EventService{
		factory: factory,
		tracer:  tracer,
		logger:  logger,
	}
}

// inTransaction runs fn inside a fresh entity manager and transaction. The
// transaction is rolled back when fn fails.
func (s *EventService) inTransaction(ctx context.Context, name string, fn func(em *persistence.EntityManager, txn *newrelic.Transaction) error) error {
	txn := s.tracer.StartTransaction(name)
	defer s.tracer.EndTransaction(txn)

	em := s.factory.CreateEntityManager()
	defer em.Close()

	tx := em.Transaction()
	if err := tx.Begin(ctx); err != nil {
		s.tracer.RecordError(txn, err)
		return err
	}

	if err := fn(em, txn); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error().Err(rbErr).Str("operation", name).Msg("Failed to roll back transaction")
		}
		s.tracer.RecordError(txn, err)
		return err
	}

	span := s.tracer.StartSpan("commit", txn)
	err := tx.Commit(ctx)
	span.End()
	if err != nil {
		s.tracer.RecordError(txn, err)
		return err
	}
	return nil
}

func eventQuery(em *persistence.EntityManager) *search.QueryBuilder {
	return em.SearchFactory().BuildQueryBuilder().ForEntity(models.EventEntity).Get()
}

// CreateEvents persists n events titled "Event 0".."Event n-1" in a single
// transaction, each with an initial log entry
func (s *EventService) CreateEvents(ctx context.Context, n int) ([]*models.Event, error) {
	if n < 0 {
		return nil, errors.Errorf("invalid event count %d", n)
	}

	events := make([]*models.Event, 0, n)
	err := s.inTransaction(ctx, "create-events", func(em *persistence.EntityManager, txn *newrelic.Transaction) error {
		s.tracer.AddAttribute(txn, "count", n)
		for i := 0; i < n; i++ {
			event := models.NewEvent(fmt.Sprintf("Event %d", i), time.Now())
			event.AddLogEntry(fmt.Sprintf("Initial Creation of event %d", i))
			if err := em.Persist(ctx, event); err != nil {
				return err
			}
			events = append(events, event)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create events")
	}

	s.logger.Info().Int("count", n).Msg("Events created")
	return events, nil
}

// CreateEvent persists a single event
func (s *EventService) CreateEvent(ctx context.Context, title string, date time.Time, log []string) (*models.Event, error) {
	if date.IsZero() {
		date = time.Now()
	}
	event := models.NewEvent(title, date)
	for _, entry := range log {
		event.AddLogEntry(entry)
	}

	err := s.inTransaction(ctx, "create-event", func(em *persistence.EntityManager, txn *newrelic.Transaction) error {
		s.tracer.AddAttribute(txn, "title", title)
		return em.Persist(ctx, event)
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create event")
	}

	s.logger.Info().Str("id", event.ID).Str("title", event.Title).Msg("Event created")
	return event, nil
}

// CountEvents returns the number of indexed events
func (s *EventService) CountEvents(ctx context.Context) (int, error) {
	var size int
	err := s.inTransaction(ctx, "count-events", func(em *persistence.EntityManager, _ *newrelic.Transaction) error {
		var err error
		size, err = em.CreateFullTextQuery(eventQuery(em).All()).ResultSize(ctx)
		return err
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to count events")
	}
	return size, nil
}

// ListEvents returns a page of all events and the total hit count
func (s *EventService) ListEvents(ctx context.Context, offset, limit int) ([]*models.Event, int, error) {
	var (
		events []*models.Event
		total  int
	)
	err := s.inTransaction(ctx, "list-events", func(em *persistence.EntityManager, _ *newrelic.Transaction) error {
		var err error
		events, total, err = runPaged(ctx, em.CreateFullTextQuery(eventQuery(em).All()), offset, limit)
		return err
	})
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list events")
	}
	return events, total, nil
}

// SearchEvents runs a keyword query on event titles
func (s *EventService) SearchEvents(ctx context.Context, title string, offset, limit int) ([]*models.Event, int, error) {
	var (
		events []*models.Event
		total  int
	)
	err := s.inTransaction(ctx, "search-events", func(em *persistence.EntityManager, txn *newrelic.Transaction) error {
		s.tracer.AddAttribute(txn, "title", title)
		var err error
		events, total, err = runPaged(ctx, em.CreateFullTextQuery(eventQuery(em).Keyword("title", title)), offset, limit)
		return err
	})
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to search events")
	}
	return events, total, nil
}

func runPaged(ctx context.Context, q *persistence.FullTextQuery, offset, limit int) ([]*models.Event, int, error) {
	total, err := q.ResultSize(ctx)
	if err != nil {
		return nil, 0, err
	}
	q.SetFirstResult(offset)
	if limit > 0 {
		q.SetMaxResults(limit)
	}
	events, err := q.ResultList(ctx)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// GetEvent returns an event by id
func (s *EventService) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var event *models.Event
	err := s.inTransaction(ctx, "get-event", func(em *persistence.EntityManager, txn *newrelic.Transaction) error {
		s.tracer.AddAttribute(txn, "id", id)
		var err error
		event, err = em.Find(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// AppendLog adds an entry to the log of an event
func (s *EventService) AppendLog(ctx context.Context, id, entry string) (*models.Event, error) {
	var event *models.Event
	err := s.inTransaction(ctx, "append-log", func(em *persistence.EntityManager, txn *newrelic.Transaction) error {
		s.tracer.AddAttribute(txn, "id", id)
		var err error
		event, err = em.Find(ctx, id)
		if err != nil {
			return err
		}
		event.AddLogEntry(entry)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug().Str("id", id).Int("entries", len(event.Log)).Msg("Event log updated")
	return event, nil
}

// DeleteEvent removes an event by id
func (s *EventService) DeleteEvent(ctx context.Context, id string) error {
	err := s.inTransaction(ctx, "delete-event", func(em *persistence.EntityManager, txn *newrelic.Transaction) error {
		s.tracer.AddAttribute(txn, "id", id)
		event, err := em.Find(ctx, id)
		if err != nil {
			return err
		}
		return em.Remove(ctx, event)
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("id", id).Msg("Event deleted")
	return nil
}

// DeleteAllEvents removes every event returned by a match-all query
func (s *EventService) DeleteAllEvents(ctx context.Context) (int, error) {
	deleted := 0
	err := s.inTransaction(ctx, "delete-all-events", func(em *persistence.EntityManager, _ *newrelic.Transaction) error {
		events, err := em.CreateFullTextQuery(eventQuery(em).All()).ResultList(ctx)
		if err != nil {
			return err
		}
		for _, event := range events {
			if err := em.Remove(ctx, event); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete events")
	}

	s.logger.Info().Int("count", deleted).Msg("Events deleted")
	return deleted, nil
}

// DumpCaches returns the entries of every named cache
func (s *EventService) DumpCaches(ctx context.Context) (map[string]map[string]string, error) {
	caches := s.factory.Caches()
	dump := make(map[string]map[string]string)

	for _, name := range caches.CacheNames() {
		entries, err := caches.GetCache(name).Entries(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read cache %s", name)
		}
		values := make(map[string]string, len(entries))
		for key, value := range entries {
			values[key] = string(value)
		}
		dump[name] = values
	}
	return dump, nil
}

// CacheStats returns hit and miss counters per cache, nil when statistics
// are disabled
func (s *EventService) CacheStats() map[string]cache.Stats {
	return s.factory.Caches().Stats()
}

// Reindex rebuilds the full-text index from the store
func (s *EventService) Reindex(ctx context.Context, batchSize, threads int) (int, error) {
	txn := s.tracer.StartTransaction("reindex")
	defer s.tracer.EndTransaction(txn)

	indexed, err := s.factory.MassIndexer().
		BatchSizeToLoadObjects(batchSize).
		ThreadsToLoadObjects(threads).
		StartAndWait(ctx)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return indexed, errors.Wrap(err, "failed to rebuild index")
	}

	s.tracer.AddAttribute(txn, "indexed", indexed)
	return indexed, nil
}

// RunDemo inserts n events, counts and lists them with a match-all query,
// deletes them and counts again
func (s *EventService) RunDemo(ctx context.Context, n int) (*DemoReport, error) {
	report := &DemoReport{}

	events, err := s.CreateEvents(ctx, n)
	if err != nil {
		return nil, err
	}
	report.Inserted = len(events)

	listed, total, err := s.ListEvents(ctx, 0, 0)
	if err != nil {
		return nil, err
	}
	report.Found = total
	for _, event := range listed {
		report.Titles = append(report.Titles, event.Title)
	}
	sort.Strings(report.Titles)

	if report.Deleted, err = s.DeleteAllEvents(ctx); err != nil {
		return nil, err
	}
	if report.Remaining, err = s.CountEvents(ctx); err != nil {
		return nil, err
	}

	s.logger.Info().
		Int("inserted", report.Inserted).
		Int("found", report.Found).
		Int("deleted", report.Deleted).
		Int("remaining", report.Remaining).
		Msg("Demo completed")
	return report, nil
}
