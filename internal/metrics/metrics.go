package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Metric names recorded by the persistence and database layers
const (
	EntitiesPersisted = "entities_persisted"
	EntitiesRemoved   = "entities_removed"
	EntitiesUpdated   = "entities_updated"
	IndexOperations   = "index_operations"
	CacheHits         = "cache_hits"
	CacheMisses       = "cache_misses"
	TransactionCommit = "transaction_commit"
	FullTextQuery     = "fulltext_query"
	ManagedEntities   = "managed_entities"
)

// Database query types
const (
	DBQueryTypeInsert = "db_insert"
	DBQueryTypeSelect = "db_select"
	DBQueryTypeUpdate = "db_update"
	DBQueryTypeDelete = "db_delete"
)

// TimerMetric captures timing information
type TimerMetric struct {
	Count         int64   `json:"count"`
	TotalTimeMs   int64   `json:"total_time_ms"`
	AverageTimeMs float64 `json:"average_time_ms"`
	MinTimeMs     int64   `json:"min_time_ms"`
	MaxTimeMs     int64   `json:"max_time_ms"`
}

// ErrorRateMetric captures error rates
type ErrorRateMetric struct {
	Total     int64   `json:"total"`
	Errors    int64   `json:"errors"`
	ErrorRate float64 `json:"error_rate"`
}

type timer struct {
	count       int64
	totalTimeMs int64
	minTimeMs   int64
	maxTimeMs   int64
}

type errorRate struct {
	total  int64
	errors int64
}

// Metrics is an in-process metrics collector. The zero value is not usable;
// create one with NewMetrics. A nil *Metrics ignores all recordings.
type Metrics struct {
	mu         sync.RWMutex
	counters   map[string]*int64
	gauges     map[string]*int64
	timers     map[string]*timer
	errorRates map[string]*errorRate
	startTime  time.Time
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		counters:   make(map[string]*int64),
		gauges:     make(map[string]*int64),
		timers:     make(map[string]*timer),
		errorRates: make(map[string]*errorRate),
		startTime:  time.Now(),
	}
}

// lookup returns the entry for name, creating it under the write lock if missing.
func lookup[T any](m *Metrics, entries map[string]*T, name string, init func() *T) *T {
	m.mu.RLock()
	entry, exists := entries[name]
	m.mu.RUnlock()
	if exists {
		return entry
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, exists = entries[name]; !exists {
		entry = init()
		entries[name] = entry
	}
	return entry
}

// IncrementCounter increments a counter by 1
func (m *Metrics) IncrementCounter(name string) {
	m.IncrementCounterBy(name, 1)
}

// IncrementCounterBy increments a counter by the specified value
func (m *Metrics) IncrementCounterBy(name string, value int64) {
	if m == nil {
		return
	}
	counter := lookup(m, m.counters, name, func() *int64 { return new(int64) })
	atomic.AddInt64(counter, value)
}

// SetGauge sets a gauge to a specific value
func (m *Metrics) SetGauge(name string, value int64) {
	if m == nil {
		return
	}
	gauge := lookup(m, m.gauges, name, func() *int64 { return new(int64) })
	atomic.StoreInt64(gauge, value)
}

// RecordDuration records a timing measurement
func (m *Metrics) RecordDuration(name string, d time.Duration) {
	if m == nil {
		return
	}
	durationMs := d.Milliseconds()
	t := lookup(m, m.timers, name, func() *timer { return &timer{minTimeMs: math.MaxInt64} })

	atomic.AddInt64(&t.count, 1)
	atomic.AddInt64(&t.totalTimeMs, durationMs)

	for {
		current := atomic.LoadInt64(&t.minTimeMs)
		if durationMs >= current || atomic.CompareAndSwapInt64(&t.minTimeMs, current, durationMs) {
			break
		}
	}
	for {
		current := atomic.LoadInt64(&t.maxTimeMs)
		if durationMs <= current || atomic.CompareAndSwapInt64(&t.maxTimeMs, current, durationMs) {
			break
		}
	}
}

// RecordResult records the outcome of an operation for error rate tracking
func (m *Metrics) RecordResult(name string, err error) {
	if m == nil {
		return
	}
	rate := lookup(m, m.errorRates, name, func() *errorRate { return &errorRate{} })
	atomic.AddInt64(&rate.total, 1)
	if err != nil {
		atomic.AddInt64(&rate.errors, 1)
	}
}

// RecordDatabaseQuery records a database operation
func (m *Metrics) RecordDatabaseQuery(queryType string, err error, d time.Duration) {
	m.RecordDuration(queryType, d)
	m.RecordResult(queryType, err)
}

// Counter returns the current value of a counter
func (m *Metrics) Counter(name string) int64 {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if counter, ok := m.counters[name]; ok {
		return atomic.LoadInt64(counter)
	}
	return 0
}

// GetCounters returns all counters
func (m *Metrics) GetCounters() map[string]int64 {
	counters := make(map[string]int64)

	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, counter := range m.counters {
		counters[name] = atomic.LoadInt64(counter)
	}

	return counters
}

// GetGauges returns all gauges
func (m *Metrics) GetGauges() map[string]int64 {
	gauges := make(map[string]int64)

	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, gauge := range m.gauges {
		gauges[name] = atomic.LoadInt64(gauge)
	}

	return gauges
}

// GetTimers returns all timers
func (m *Metrics) GetTimers() map[string]TimerMetric {
	timers := make(map[string]TimerMetric)

	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, t := range m.timers {
		count := atomic.LoadInt64(&t.count)
		total := atomic.LoadInt64(&t.totalTimeMs)

		var average float64
		if count > 0 {
			average = float64(total) / float64(count)
		}

		timers[name] = TimerMetric{
			Count:         count,
			TotalTimeMs:   total,
			AverageTimeMs: average,
			MinTimeMs:     atomic.LoadInt64(&t.minTimeMs),
			MaxTimeMs:     atomic.LoadInt64(&t.maxTimeMs),
		}
	}

	return timers
}

// GetErrorRates returns all error rates
func (m *Metrics) GetErrorRates() map[string]ErrorRateMetric {
	rates := make(map[string]ErrorRateMetric)

	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, r := range m.errorRates {
		total := atomic.LoadInt64(&r.total)
		errs := atomic.LoadInt64(&r.errors)

		var rate float64
		if total > 0 {
			rate = float64(errs) / float64(total) * 100.0
		}

		rates[name] = ErrorRateMetric{Total: total, Errors: errs, ErrorRate: rate}
	}

	return rates
}

// GetUptimeSeconds returns the uptime in seconds
func (m *Metrics) GetUptimeSeconds() int64 {
	return int64(time.Since(m.startTime).Seconds())
}

// GetAllMetrics returns all metrics in a structured format
func (m *Metrics) GetAllMetrics() map[string]interface{} {
	return map[string]interface{}{
		"uptime_seconds": m.GetUptimeSeconds(),
		"counters":       m.GetCounters(),
		"gauges":         m.GetGauges(),
		"timers":         m.GetTimers(),
		"error_rates":    m.GetErrorRates(),
	}
}
