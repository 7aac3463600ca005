package cache

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Backends supported by the cache manager
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

const (
	defaultExpiration      = 10 * time.Minute
	defaultCleanupInterval = 5 * time.Minute
)

// Config is the parsed cache configuration resource
type Config struct {
	Global  GlobalConfig            `yaml:"global"`
	Default CacheConfig             `yaml:"default"`
	Caches  map[string]CacheConfig `yaml:"caches"`
}

// GlobalConfig holds settings shared by every cache
type GlobalConfig struct {
	Backend    string `yaml:"backend"`
	KeyPrefix  string `yaml:"key_prefix"`
	Statistics bool   `yaml:"statistics"`
}

// CacheConfig holds the settings of a single named cache
type CacheConfig struct {
	Enabled         *bool         `yaml:"enabled"`
	Expiration      time.Duration `yaml:"expiration"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// IsEnabled reports whether the cache stores anything; caches are enabled unless
// explicitly switched off.
func (c CacheConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// LoadConfig parses the cache configuration resource at path
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read cache configuration %s", path)
	}
	return ParseConfig(data)
}

// ParseConfig parses a YAML cache configuration
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse cache configuration")
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns an in-memory configuration defining the entity and
// association caches
func DefaultConfig() *Config {
	cfg := &Config{
		Global: GlobalConfig{Backend: BackendMemory, Statistics: true},
		Caches: map[string]CacheConfig{
			EntitiesCache:     {},
			AssociationsCache: {},
		},
	}
	_ = cfg.normalize()
	return cfg
}

func (c *Config) normalize() error {
	switch c.Global.Backend {
	case "":
		c.Global.Backend = BackendMemory
	case BackendMemory, BackendRedis:
	default:
		return errors.Errorf("unknown cache backend %q", c.Global.Backend)
	}

	c.Default = c.Default.withDefaults(CacheConfig{
		Expiration:      defaultExpiration,
		CleanupInterval: defaultCleanupInterval,
	})
	if c.Caches == nil {
		c.Caches = make(map[string]CacheConfig)
	}
	for name, cc := range c.Caches {
		c.Caches[name] = cc.withDefaults(c.Default)
	}
	return nil
}

// withDefaults fills unset values from fallback
func (c CacheConfig) withDefaults(fallback CacheConfig) CacheConfig {
	if c.Enabled == nil {
		c.Enabled = fallback.Enabled
	}
	if c.Expiration <= 0 {
		c.Expiration = fallback.Expiration
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = fallback.CleanupInterval
	}
	return c
}
