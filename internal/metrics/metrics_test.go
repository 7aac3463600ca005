package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndGauges(t *testing.T) {
	m := NewMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncrementCounter(EntitiesPersisted)
		}()
	}
	wg.Wait()

	m.IncrementCounterBy(EntitiesRemoved, 3)
	m.SetGauge(ManagedEntities, 7)

	assert.Equal(t, int64(50), m.Counter(EntitiesPersisted))
	assert.Equal(t, int64(3), m.GetCounters()[EntitiesRemoved])
	assert.Equal(t, int64(7), m.GetGauges()[ManagedEntities])
	assert.Zero(t, m.Counter("missing"))
}

func TestTimersTrackMinMax(t *testing.T) {
	m := NewMetrics()
	m.RecordDuration(DBQueryTypeSelect, 10*time.Millisecond)
	m.RecordDuration(DBQueryTypeSelect, 30*time.Millisecond)

	timer := m.GetTimers()[DBQueryTypeSelect]
	require.Equal(t, int64(2), timer.Count)
	assert.Equal(t, int64(10), timer.MinTimeMs)
	assert.Equal(t, int64(30), timer.MaxTimeMs)
	assert.InDelta(t, 20.0, timer.AverageTimeMs, 0.001)
}

func TestErrorRates(t *testing.T) {
	m := NewMetrics()
	m.RecordDatabaseQuery(DBQueryTypeInsert, nil, time.Millisecond)
	m.RecordDatabaseQuery(DBQueryTypeInsert, errors.New("boom"), time.Millisecond)

	rate := m.GetErrorRates()[DBQueryTypeInsert]
	assert.Equal(t, int64(2), rate.Total)
	assert.Equal(t, int64(1), rate.Errors)
	assert.InDelta(t, 50.0, rate.ErrorRate, 0.001)

	all := m.GetAllMetrics()
	assert.Contains(t, all, "error_rates")
	assert.Contains(t, all, "uptime_seconds")
}

func TestNilMetricsIgnoresRecordings(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncrementCounter(EntitiesPersisted)
		m.SetGauge(ManagedEntities, 1)
		m.RecordDatabaseQuery(DBQueryTypeDelete, nil, time.Second)
	})
	assert.Zero(t, m.Counter(EntitiesPersisted))
}
