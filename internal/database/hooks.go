package database

import (
	"time"

	"example.com/backstage/eventsearch/internal/metrics"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

const startTimeKey = "metrics:start_time"

// RegisterMetricsHooks registers GORM callbacks that feed database metrics
func RegisterMetricsHooks(db *gorm.DB, m *metrics.Metrics) error {
	record := func(queryType string) func(*gorm.DB) {
		return func(tx *gorm.DB) {
			m.RecordDatabaseQuery(queryType, tx.Error, getDuration(tx))
		}
	}

	cb := db.Callback()
	if err := cb.Create().After("gorm:create").Register("metrics:create", record(metrics.DBQueryTypeInsert)); err != nil {
		return errors.Wrap(err, "failed to register create metrics hook")
	}
	if err := cb.Query().After("gorm:query").Register("metrics:query", record(metrics.DBQueryTypeSelect)); err != nil {
		return errors.Wrap(err, "failed to register query metrics hook")
	}
	if err := cb.Update().After("gorm:update").Register("metrics:update", record(metrics.DBQueryTypeUpdate)); err != nil {
		return errors.Wrap(err, "failed to register update metrics hook")
	}
	if err := cb.Delete().After("gorm:delete").Register("metrics:delete", record(metrics.DBQueryTypeDelete)); err != nil {
		return errors.Wrap(err, "failed to register delete metrics hook")
	}
	return nil
}

// RegisterDurationHooks stamps the start time before every database operation
func RegisterDurationHooks(db *gorm.DB) error {
	cb := db.Callback()
	if err := cb.Create().Before("gorm:create").Register("duration:create", logDuration); err != nil {
		return errors.Wrap(err, "failed to register create duration hook")
	}
	if err := cb.Query().Before("gorm:query").Register("duration:query", logDuration); err != nil {
		return errors.Wrap(err, "failed to register query duration hook")
	}
	if err := cb.Update().Before("gorm:update").Register("duration:update", logDuration); err != nil {
		return errors.Wrap(err, "failed to register update duration hook")
	}
	if err := cb.Delete().Before("gorm:delete").Register("duration:delete", logDuration); err != nil {
		return errors.Wrap(err, "failed to register delete duration hook")
	}
	return nil
}

func logDuration(db *gorm.DB) {
	db.InstanceSet(startTimeKey, time.Now())
}

func getDuration(db *gorm.DB) time.Duration {
	if start, ok := db.InstanceGet(startTimeKey); ok {
		if t, ok := start.(time.Time); ok {
			return time.Since(t)
		}
	}
	return 0
}
