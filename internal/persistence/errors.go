package persistence

import "github.com/pkg/errors"

// Errors returned by the entity manager. Callers compare with errors.Is.
var (
	ErrNoActiveTransaction = errors.New("no active transaction")
	ErrTransactionActive   = errors.New("transaction already active")
	ErrDetachedEntity      = errors.New("detached entity passed to persist")
	ErrEntityNotManaged    = errors.New("entity is not managed by this entity manager")
	ErrEntityManagerClosed = errors.New("entity manager is closed")
	ErrEntityNotFound      = errors.New("entity not found")
	ErrFactoryClosed       = errors.New("entity manager factory is closed")
)
