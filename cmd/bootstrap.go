package cmd

import (
	"context"
	"os"

	"example.com/backstage/eventsearch/config"
	"example.com/backstage/eventsearch/internal/cache"
	"example.com/backstage/eventsearch/internal/database"
	"example.com/backstage/eventsearch/internal/logging"
	"example.com/backstage/eventsearch/internal/metrics"
	"example.com/backstage/eventsearch/internal/persistence"
	"example.com/backstage/eventsearch/internal/search"
	"example.com/backstage/eventsearch/internal/services"
	"example.com/backstage/eventsearch/internal/tracing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// application holds the components shared by the commands
type application struct {
	cfg     config.Config
	logger  zerolog.Logger
	db      *gorm.DB
	metrics *metrics.Metrics
	tracer  tracing.Tracer
	factory *persistence.EntityManagerFactory
	events  *services.EventService
}

func loadConfig() (config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, logging.NewLogger(cfg.Logging, os.Stderr), nil
}

// newCacheManager builds the cache manager from the configuration resource.
// Any failure here terminates the process.
func newCacheManager(cfg config.Config, logger zerolog.Logger) *cache.Manager {
	manager, err := cache.NewManagerFromFile(cfg.Cache.ConfigFile,
		cache.WithLogger(logger),
		cache.WithRedisConfig(cfg.Cache.Redis))
	if err != nil {
		logger.Fatal().Err(err).Str("file", cfg.Cache.ConfigFile).Msg("Failed to start cache manager")
	}
	return manager
}

// seedIndex fills a memory-only index from the store so queries agree with
// committed rows from the first request on
func seedIndex(ctx context.Context, cfg config.Config, factory *persistence.EntityManagerFactory, logger zerolog.Logger) error {
	if !search.IsMemoryOnly(cfg.Search) {
		return nil
	}

	indexed, err := factory.MassIndexer().
		BatchSizeToLoadObjects(cfg.Worker.BatchSize).
		ThreadsToLoadObjects(cfg.Worker.Concurrency).
		StartAndWait(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to seed in-memory index")
	}
	logger.Info().Int("documents", indexed).Msg("In-memory index seeded from database")
	return nil
}

// bootstrap connects the store, the cache manager and the index and builds
// the event service
func bootstrap() (*application, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	app := &application{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewMetrics(),
	}

	tracer, err := tracing.NewTracer(cfg.Tracing, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		tracer = tracing.Noop()
	}
	app.tracer = tracer

	db, err := database.Connect(cfg.DB, logger, app.metrics)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		_ = database.Close(db)
		return nil, errors.Wrap(err, "failed to run migrations")
	}
	app.db = db

	caches := newCacheManager(cfg, logger)

	backend, err := search.NewBackend(cfg.Search, logger)
	if err != nil {
		_ = caches.Close()
		_ = database.Close(db)
		return nil, err
	}

	factory, err := persistence.NewEntityManagerFactory(cfg.PersistenceUnit, db, caches,
		search.NewFactory(backend, logger),
		persistence.WithLogger(logger),
		persistence.WithMetrics(app.metrics))
	if err != nil {
		_ = backend.Close()
		_ = caches.Close()
		_ = database.Close(db)
		return nil, err
	}
	app.factory = factory

	if err := seedIndex(context.Background(), cfg, factory, logger); err != nil {
		_ = factory.Close()
		_ = database.Close(db)
		return nil, err
	}

	app.events = services.NewEventService(factory, tracer, logger)

	return app, nil
}

// Close releases every component in reverse start order
func (a *application) Close() {
	if err := a.factory.Close(); err != nil {
		a.logger.Error().Err(err).Msg("Failed to close entity manager factory")
	}
	if err := database.Close(a.db); err != nil {
		a.logger.Error().Err(err).Msg("Failed to close database")
	}
	a.tracer.Close()
}
