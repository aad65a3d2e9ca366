// Package manager resolves storage configuration, constructs the matching
// backend adapter, and applies the fallback policy.
//
// Configuration is resolved exactly once, at construction, from an explicit
// StorageConfig, the STORAGE_* environment variables, or a TOML file. No
// component reads environment state after that point.
//
// # Fallback policy
//
// Fallback is decided entirely inside Open, as an explicit decision table:
//
//	type == mssql, driver not registered  -> substitute sqlite, warn
//	type == mssql, connection fails        -> substitute sqlite, warn
//	anything else fails                    -> propagate the error
//
// The substitution is one-directional and transparent: the caller's
// interface does not change, only the concrete backend behind it. Memory
// and file misconfiguration never falls back, since those backends have no
// external dependency to fail on.
package manager

import (
	"context"
	"fmt"

	"github.com/keystone-data/storekit/internal/adapters/driven/storage/file"
	"github.com/keystone-data/storekit/internal/adapters/driven/storage/memory"
	"github.com/keystone-data/storekit/internal/adapters/driven/storage/mssql"
	"github.com/keystone-data/storekit/internal/adapters/driven/storage/sqlite"
	"github.com/keystone-data/storekit/internal/core/domain"
	"github.com/keystone-data/storekit/internal/core/ports/driven"
	"github.com/keystone-data/storekit/internal/logger"
)

// constructors is the closed registry of backend constructors. Unknown
// types are rejected by StorageConfig.Validate before this table is
// consulted.
var constructors = map[domain.BackendType]func(domain.StorageConfig) driven.Storage{
	domain.BackendMemory: func(cfg domain.StorageConfig) driven.Storage { return memory.New(cfg) },
	domain.BackendFile:   func(cfg domain.StorageConfig) driven.Storage { return file.New(cfg) },
	domain.BackendSQLite: func(cfg domain.StorageConfig) driven.Storage { return sqlite.New(cfg) },
	domain.BackendMSSQL:  func(cfg domain.StorageConfig) driven.Storage { return mssql.New(cfg) },
}

// Manager selects, constructs and connects storage adapters from an
// immutable resolved configuration.
type Manager struct {
	cfg domain.StorageConfig
}

// New creates a manager from an explicit configuration. The config is
// normalised and validated here, before any connection attempt.
func New(cfg domain.StorageConfig) (*Manager, error) {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{cfg: cfg}, nil
}

// FromEnv creates a manager from STORAGE_* environment variables.
func FromEnv() (*Manager, error) {
	cfg, err := configFromEnv()
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

// FromFile creates a manager from a TOML configuration file.
func FromFile(path string) (*Manager, error) {
	cfg, err := configFromFile(path)
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

// Config returns the resolved configuration.
func (m *Manager) Config() domain.StorageConfig {
	return m.cfg
}

// Open constructs the configured adapter and connects it, applying the
// fallback policy. The caller owns the returned adapter and must Close it;
// prefer With for automatic cleanup.
func (m *Manager) Open(ctx context.Context) (driven.Storage, error) {
	if m.cfg.Type == domain.BackendMSSQL {
		return m.openMSSQL(ctx)
	}

	adapter := constructors[m.cfg.Type](m.cfg)
	if err := adapter.Connect(ctx); err != nil {
		return nil, err
	}
	logger.Info("storage backend ready: %s", m.cfg.Type)
	return adapter, nil
}

// openMSSQL applies the enterprise-backend decision table.
func (m *Manager) openMSSQL(ctx context.Context) (driven.Storage, error) {
	if !mssql.Available() {
		logger.Warn("mssql driver unavailable, falling back to sqlite at %s", m.cfg.DatabasePath)
		return m.openFallback(ctx)
	}

	adapter := constructors[domain.BackendMSSQL](m.cfg)
	err := adapter.Connect(ctx)
	if err == nil {
		logger.Info("storage backend ready: mssql")
		return adapter, nil
	}

	adapter.Close()
	logger.Warn("mssql connection failed (%v), falling back to sqlite at %s", err, m.cfg.DatabasePath)
	return m.openFallback(ctx)
}

// openFallback substitutes the embedded backend, reusing the configured
// database path and timeouts.
func (m *Manager) openFallback(ctx context.Context) (driven.Storage, error) {
	cfg := m.cfg
	cfg.Type = domain.BackendSQLite

	adapter := sqlite.New(cfg)
	if err := adapter.Connect(ctx); err != nil {
		return nil, fmt.Errorf("fallback backend: %w", err)
	}
	return adapter, nil
}

// With runs fn against a freshly opened adapter and guarantees Close on
// every exit path, including error returns and panics.
func (m *Manager) With(ctx context.Context, fn func(driven.Storage) error) (err error) {
	adapter, err := m.Open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := adapter.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(adapter)
}
