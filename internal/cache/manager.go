package cache

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"example.com/backstage/eventsearch/config"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Names of the caches used by the persistence layer
const (
	EntitiesCache     = "ENTITIES"
	AssociationsCache = "ASSOCIATIONS"
)

// Cache is a named key/value cache
type Cache interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Entries(ctx context.Context) (map[string][]byte, error)
	Clear(ctx context.Context) error
	Stats() Stats
}

// Stats holds hit and miss counters for a cache
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Puts    int64 `json:"puts"`
	Removes int64 `json:"removes"`
}

// Manager builds and owns the named caches described by a Config
type Manager struct {
	cfg      *Config
	redis    *redis.Client
	redisCfg *config.RedisConfig
	logger   zerolog.Logger

	mu      sync.Mutex
	defined map[string]CacheConfig
	caches  map[string]Cache
	closed  bool
}

// Option configures a Manager
type Option func(*Manager)

// WithRedisClient sets the client used by the redis backend
func WithRedisClient(client *redis.Client) Option {
	return func(m *Manager) {
		m.redis = client
	}
}

// WithRedisConfig sets the connection used when the redis backend is
// configured and no client was given. The manager owns the client it opens.
func WithRedisConfig(cfg config.RedisConfig) Option {
	return func(m *Manager) {
		m.redisCfg = &cfg
	}
}

// WithLogger sets the manager logger
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a cache manager and starts every configured cache
func NewManager(cfg *Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("cache configuration is required")
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:     cfg,
		logger:  zerolog.Nop(),
		defined: make(map[string]CacheConfig, len(cfg.Caches)),
		caches:  make(map[string]Cache, len(cfg.Caches)),
	}
	for _, opt := range opts {
		opt(m)
	}

	if cfg.Global.Backend == BackendRedis && m.redis == nil {
		if m.redisCfg == nil {
			return nil, errors.New("redis cache backend requires a redis client")
		}
		client, err := NewRedisClient(*m.redisCfg)
		if err != nil {
			return nil, err
		}
		m.redis = client
	}

	for name, cc := range cfg.Caches {
		m.defined[name] = cc
		m.caches[name] = m.build(name, cc)
	}

	m.logger.Info().
		Str("backend", cfg.Global.Backend).
		Strs("caches", m.names()).
		Msg("cache manager started")

	return m, nil
}

// NewManagerFromFile parses the configuration resource at path and builds a manager
func NewManagerFromFile(path string, opts ...Option) (*Manager, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return NewManager(cfg, opts...)
}

// DefineConfiguration registers settings for a named cache. A running cache of
// that name is dropped and rebuilt with the new settings on next access.
func (m *Manager) DefineConfiguration(name string, cc CacheConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defined[name] = cc.withDefaults(m.cfg.Default)
	delete(m.caches, name)
}

// GetCache returns the named cache, creating it from the default configuration
// when the name was never defined
func (m *Manager) GetCache(name string) Cache {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return &disabledCache{name: name}
	}
	if c, ok := m.caches[name]; ok {
		return c
	}

	cc, ok := m.defined[name]
	if !ok {
		cc = m.cfg.Default
	}
	c := m.build(name, cc)
	m.caches[name] = c
	return c
}

// CacheNames returns the names of all running caches, sorted
func (m *Manager) CacheNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.names()
}

// Stats returns per-cache statistics, or nil when statistics are disabled
func (m *Manager) Stats() map[string]Stats {
	if !m.cfg.Global.Statistics {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stats := make(map[string]Stats, len(m.caches))
	for name, c := range m.caches {
		stats[name] = c.Stats()
	}
	return stats
}

func (m *Manager) names() []string {
	names := make([]string, 0, len(m.caches))
	for name := range m.caches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close stops all caches and releases the redis client
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	for name, c := range m.caches {
		if mc, ok := c.(*memoryCache); ok {
			mc.cache.Flush()
		}
		delete(m.caches, name)
	}

	if m.redis != nil {
		if err := m.redis.Close(); err != nil {
			return errors.Wrap(err, "failed to close redis client")
		}
	}
	return nil
}

func (m *Manager) build(name string, cc CacheConfig) Cache {
	var c Cache
	switch {
	case !cc.IsEnabled():
		c = &disabledCache{name: name}
	case m.cfg.Global.Backend == BackendRedis:
		c = newRedisCache(m.redis, name, m.cfg.Global.KeyPrefix, cc)
	default:
		c = newMemoryCache(name, cc)
	}

	m.logger.Debug().
		Str("cache", name).
		Dur("expiration", cc.Expiration).
		Bool("enabled", cc.IsEnabled()).
		Msg("cache defined")
	return c
}

// counters tracks cache statistics
type counters struct {
	hits, misses, puts, removes int64
}

func (c *counters) hit()    { atomic.AddInt64(&c.hits, 1) }
func (c *counters) miss()   { atomic.AddInt64(&c.misses, 1) }
func (c *counters) put()    { atomic.AddInt64(&c.puts, 1) }
func (c *counters) remove() { atomic.AddInt64(&c.removes, 1) }

func (c *counters) snapshot() Stats {
	return Stats{
		Hits:    atomic.LoadInt64(&c.hits),
		Misses:  atomic.LoadInt64(&c.misses),
		Puts:    atomic.LoadInt64(&c.puts),
		Removes: atomic.LoadInt64(&c.removes),
	}
}

// disabledCache stores nothing
type disabledCache struct {
	name string
	counters
}

func (c *disabledCache) Name() string { return c.name }

func (c *disabledCache) Get(context.Context, string) ([]byte, bool, error) {
	c.miss()
	return nil, false, nil
}

func (c *disabledCache) Put(context.Context, string, []byte) error { return nil }

func (c *disabledCache) Remove(context.Context, string) error { return nil }

func (c *disabledCache) Entries(context.Context) (map[string][]byte, error) {
	return map[string][]byte{}, nil
}

func (c *disabledCache) Clear(context.Context) error { return nil }

func (c *disabledCache) Stats() Stats { return c.snapshot() }
