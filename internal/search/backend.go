package search

import (
	"example.com/backstage/eventsearch/config"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// NewBackend creates the backend selected by cfg.Backend
func NewBackend(cfg config.SearchConfig, logger zerolog.Logger) (Backend, error) {
	switch cfg.Backend {
	case config.SearchBackendEmbedded, "":
		return NewBleveBackend(cfg.IndexDir), nil
	case config.SearchBackendElasticsearch:
		return NewElasticBackend(cfg.Elastic, logger)
	default:
		return nil, errors.Errorf("unknown search backend %q", cfg.Backend)
	}
}

// IsMemoryOnly reports whether cfg selects an index that does not outlive
// the process
func IsMemoryOnly(cfg config.SearchConfig) bool {
	switch cfg.Backend {
	case config.SearchBackendEmbedded, "":
		return cfg.IndexDir == ""
	default:
		return false
	}
}
