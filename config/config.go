package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Search backends
const (
	SearchBackendEmbedded      = "embedded"
	SearchBackendElasticsearch = "elasticsearch"
)

// Database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all application configuration
type Config struct {
	Environment     string         `mapstructure:"environment"`
	ServerAddress   string         `mapstructure:"server_address"`
	PersistenceUnit string         `mapstructure:"persistence_unit"`
	Logging         LoggingConfig  `mapstructure:"logging"`
	DB              DatabaseConfig `mapstructure:"database"`
	Cache           CacheConfig    `mapstructure:"cache"`
	Search          SearchConfig   `mapstructure:"search"`
	Tracing         TracingConfig  `mapstructure:"tracing"`
	Worker          WorkerConfig   `mapstructure:"worker"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Debug           bool          `mapstructure:"debug"`
}

// CacheConfig points at the cache configuration resource
type CacheConfig struct {
	ConfigFile string      `mapstructure:"config_file"`
	Redis      RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SearchConfig selects and configures the full-text backend
type SearchConfig struct {
	Backend  string        `mapstructure:"backend"`
	IndexDir string        `mapstructure:"index_dir"`
	Elastic  ElasticConfig `mapstructure:"elastic"`
}

// ElasticConfig holds Elasticsearch configuration
type ElasticConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Prefix   string `mapstructure:"prefix"`
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	LicenseKey     string `mapstructure:"license_key"`
	AppName        string `mapstructure:"app_name"`
	LogEnabled     bool   `mapstructure:"log_enabled"`
	DistribTracing bool   `mapstructure:"distributed_tracing_enabled"`
}

// WorkerConfig holds background worker configuration
type WorkerConfig struct {
	ReindexInterval time.Duration `mapstructure:"reindex_interval"`
	BatchSize       int           `mapstructure:"batch_size"`
	Concurrency     int           `mapstructure:"concurrency"`
}

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (Config, error) {
	v := viper.New()

	setDefaults(v)

	v.AddConfigPath(path)
	v.AddConfigPath("./config")
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Try to read the YAML config first
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			v.SetConfigName("app")
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				// Continue with ENV vars and defaults
				if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
					return Config{}, fmt.Errorf("error reading env file: %w", err)
				}
			}
		} else {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("EVENTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("unable to unmarshal config: %w", err)
	}

	return config, nil
}

// setDefaults sets default values for configuration
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("server_address", "0.0.0.0:8080")
	v.SetDefault("persistence_unit", "ogm-demo")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.dsn", "file:events.db?_pragma=foreign_keys(1)")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.debug", false)

	v.SetDefault("cache.config_file", "config/cache-config.yaml")
	v.SetDefault("cache.redis.host", "localhost")
	v.SetDefault("cache.redis.port", 6379)
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)

	v.SetDefault("search.backend", SearchBackendEmbedded)
	v.SetDefault("search.index_dir", "data/index")
	v.SetDefault("search.elastic.url", "http://localhost:9200")
	v.SetDefault("search.elastic.prefix", "events")

	v.SetDefault("tracing.app_name", "Event Search")
	v.SetDefault("tracing.log_enabled", true)
	v.SetDefault("tracing.distributed_tracing_enabled", true)

	v.SetDefault("worker.reindex_interval", "15m")
	v.SetDefault("worker.batch_size", 100)
	v.SetDefault("worker.concurrency", 4)
}

// FormatIndex formats an Elasticsearch index name with the configured prefix
func FormatIndex(cfg ElasticConfig, index string) string {
	if cfg.Prefix == "" {
		return strings.ToLower(index)
	}
	return cfg.Prefix + "-" + strings.ToLower(index)
}
