package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rakunlabs/at/internal/config"
	"github.com/rakunlabs/at/internal/crypto"
	"github.com/rakunlabs/at/internal/service"
	"github.com/rakunlabs/at/internal/store/postgres"
)

// StorerClose combines every domain storer interface with a Close method,
// so main.go can wire one concrete backend into every part of the server
// that needs persistence.
type StorerClose interface {
	service.APITokenStorer
	service.WorkflowStorer
	service.WorkflowVersionStorer
	service.TriggerStorer
	service.VariableStorer
	service.NodeConfigStorer
	service.ExecutionStorer
	Close()
}

// New creates a StorerClose based on the given store configuration.
// Currently only PostgreSQL is supported.
func New(ctx context.Context, cfg config.Store) (StorerClose, error) {
	var encKey []byte
	if cfg.EncryptionKey != "" {
		var err error
		encKey, err = crypto.DeriveKey(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("derive encryption key: %w", err)
		}
	}

	var store StorerClose
	var err error

	if cfg.Postgres != nil {
		store, err = postgres.New(ctx, cfg.Postgres, encKey)
		if err != nil {
			return nil, err
		}
	}

	if store == nil {
		return nil, errors.New("no store configured")
	}

	return store, nil
}
