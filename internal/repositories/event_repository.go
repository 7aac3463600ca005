package repositories

import (
	"context"

	"example.com/backstage/eventsearch/internal/database"
	"example.com/backstage/eventsearch/internal/models"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// ErrNotFound is returned when no event row matches
var ErrNotFound = errors.New("event not found")

// EventRepository provides access to event rows and their log collection.
// Every method takes the handle to run on so callers can pass an open
// transaction or the root connection.
type EventRepository struct{}

// NewEventRepository creates a new event repository
func NewEventRepository() *EventRepository {
	return &EventRepository{}
}

// Create inserts the event row and its log entries
func (r *EventRepository) Create(ctx context.Context, db *gorm.DB, event *models.Event) error {
	if event.ID == "" {
		return errors.New("event has no identifier")
	}

	tx := db.WithContext(ctx)
	if err := tx.Create(event).Error; err != nil {
		return errors.Wrap(err, "failed to insert event")
	}
	if err := r.insertLog(tx, event); err != nil {
		return err
	}
	return nil
}

// Update rewrites the event columns and replaces its log collection
func (r *EventRepository) Update(ctx context.Context, db *gorm.DB, event *models.Event) error {
	tx := db.WithContext(ctx)

	result := tx.Model(&models.Event{ID: event.ID}).Updates(map[string]interface{}{
		"title":      event.Title,
		"event_date": event.Date,
	})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to update event")
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	if err := tx.Where("event_id = ?", event.ID).Delete(&models.EventLogEntry{}).Error; err != nil {
		return errors.Wrap(err, "failed to clear event log")
	}
	return r.insertLog(tx, event)
}

// Delete removes the log entries and the event row
func (r *EventRepository) Delete(ctx context.Context, db *gorm.DB, id string) error {
	tx := db.WithContext(ctx)

	if err := tx.Where("event_id = ?", id).Delete(&models.EventLogEntry{}).Error; err != nil {
		return errors.Wrap(err, "failed to delete event log")
	}

	result := tx.Where("id = ?", id).Delete(&models.Event{})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to delete event")
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID loads an event with its log
func (r *EventRepository) GetByID(ctx context.Context, db *gorm.DB, id string) (*models.Event, error) {
	tx := db.WithContext(ctx)

	var event models.Event
	if err := tx.Where("id = ?", id).First(&event).Error; err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get event by ID")
	}

	log, err := r.GetLog(ctx, db, id)
	if err != nil {
		return nil, err
	}
	event.Log = log
	return &event, nil
}

// GetByIDs loads events with their logs in two queries. Missing ids are skipped.
func (r *EventRepository) GetByIDs(ctx context.Context, db *gorm.DB, ids []string) (map[string]*models.Event, error) {
	found := make(map[string]*models.Event, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	tx := db.WithContext(ctx)

	var events []models.Event
	if err := tx.Where("id IN ?", ids).Find(&events).Error; err != nil {
		return nil, errors.Wrap(err, "failed to get events by IDs")
	}
	for i := range events {
		events[i].Log = []string{}
		found[events[i].ID] = &events[i]
	}

	var entries []models.EventLogEntry
	if err := tx.Where("event_id IN ?", ids).Order("event_id, position").Find(&entries).Error; err != nil {
		return nil, errors.Wrap(err, "failed to get event logs")
	}
	for _, entry := range entries {
		if event, ok := found[entry.EventID]; ok {
			event.Log = append(event.Log, entry.Entry)
		}
	}
	return found, nil
}

// ExistingIDs returns the subset of ids that have a stored row
func (r *EventRepository) ExistingIDs(ctx context.Context, db *gorm.DB, ids []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{}, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}

	var found []string
	err := db.WithContext(ctx).
		Model(&models.Event{}).
		Where("id IN ?", ids).
		Pluck("id", &found).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to check event IDs")
	}
	for _, id := range found {
		existing[id] = struct{}{}
	}
	return existing, nil
}

// GetLog loads the ordered log of an event
func (r *EventRepository) GetLog(ctx context.Context, db *gorm.DB, id string) ([]string, error) {
	var entries []models.EventLogEntry
	err := db.WithContext(ctx).
		Where("event_id = ?", id).
		Order("position").
		Find(&entries).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get event log")
	}

	log := make([]string, 0, len(entries))
	for _, entry := range entries {
		log = append(log, entry.Entry)
	}
	return log, nil
}

// ListIDs returns a page of event ids ordered by id
func (r *EventRepository) ListIDs(ctx context.Context, db *gorm.DB, offset, limit int) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&models.Event{}).
		Order("id").
		Offset(offset).
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list event IDs")
	}
	return ids, nil
}

// Count returns the number of stored events
func (r *EventRepository) Count(ctx context.Context, db *gorm.DB) (int64, error) {
	var count int64
	if err := db.WithContext(ctx).Model(&models.Event{}).Count(&count).Error; err != nil {
		return 0, errors.Wrap(err, "failed to count events")
	}
	return count, nil
}

func (r *EventRepository) insertLog(tx *gorm.DB, event *models.Event) error {
	entries := event.LogEntries()
	if len(entries) == 0 {
		return nil
	}
	if err := tx.Create(&entries).Error; err != nil {
		return errors.Wrap(err, "failed to insert event log")
	}
	return nil
}
