package domain

import (
	"fmt"
	"time"
)

// BackendType identifies a storage backend. The set is closed; unknown
// values are rejected at configuration-validation time, not at first use.
type BackendType string

const (
	// BackendMemory is the volatile in-process backend.
	BackendMemory BackendType = "memory"

	// BackendFile is the directory-per-collection JSON file backend.
	BackendFile BackendType = "file"

	// BackendSQLite is the embedded relational backend. This is the default:
	// always available, no external service dependency.
	BackendSQLite BackendType = "sqlite"

	// BackendMSSQL is the remote Microsoft SQL Server backend.
	BackendMSSQL BackendType = "mssql"
)

// ParseBackendType validates a backend type name.
func ParseBackendType(s string) (BackendType, error) {
	switch BackendType(s) {
	case BackendMemory, BackendFile, BackendSQLite, BackendMSSQL:
		return BackendType(s), nil
	case "":
		return BackendSQLite, nil
	default:
		return "", fmt.Errorf("%w: unknown backend type %q (supported: memory, file, sqlite, mssql)", ErrInvalidConfig, s)
	}
}

// Default paths and timeouts applied by Normalized.
const (
	DefaultDatabasePath   = "data/storekit.db"
	DefaultBasePath       = "data/storage"
	DefaultSnapshotPath   = "data/memory_storage.json"
	DefaultMSSQLDatabase  = "storekit"
	DefaultConnectTimeout = 30 * time.Second
	DefaultCommandTimeout = 30 * time.Second
)

// StorageConfig selects a backend and carries its connection settings.
// It is immutable once an adapter has been constructed from it.
type StorageConfig struct {
	// Type selects the backend.
	Type BackendType

	// DatabasePath is the embedded database file location (sqlite).
	DatabasePath string

	// BasePath is the root directory for file-backed collections (file).
	BasePath string

	// PersistToFile enables snapshot persistence for the memory backend:
	// the whole structure is written to FilePath on Close and reloaded on
	// Connect.
	PersistToFile bool

	// FilePath is the snapshot file location (memory).
	FilePath string

	// Server is the database server, optionally host:port (mssql).
	Server string

	// Database is the database name (mssql).
	Database string

	// Username and Password authenticate explicitly (mssql). Ignored when
	// TrustedConnection is set.
	Username string
	Password string

	// TrustedConnection selects integrated authentication (mssql).
	TrustedConnection bool

	// Encrypt enables transport encryption (mssql).
	Encrypt bool

	// TrustServerCertificate skips server certificate validation (mssql).
	TrustServerCertificate bool

	// ConnectionTimeout bounds connection establishment, all backends.
	ConnectionTimeout time.Duration

	// CommandTimeout bounds individual operations, all backends.
	CommandTimeout time.Duration
}

// DefaultConfig returns the baseline configuration for a backend, matching
// the documented defaults for unset options.
func DefaultConfig(backend BackendType) StorageConfig {
	cfg := StorageConfig{
		Type:              backend,
		Encrypt:           true,
		ConnectionTimeout: DefaultConnectTimeout,
		CommandTimeout:    DefaultCommandTimeout,
	}
	return cfg.Normalized()
}

// Normalized returns a copy with defaults filled in for unset fields.
// The Type default is sqlite.
func (c StorageConfig) Normalized() StorageConfig {
	if c.Type == "" {
		c.Type = BackendSQLite
	}
	if c.DatabasePath == "" {
		c.DatabasePath = DefaultDatabasePath
	}
	if c.BasePath == "" {
		c.BasePath = DefaultBasePath
	}
	if c.FilePath == "" {
		c.FilePath = DefaultSnapshotPath
	}
	if c.Database == "" {
		c.Database = DefaultMSSQLDatabase
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = DefaultConnectTimeout
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
	return c
}

// Validate rejects invalid or incomplete configuration. It is called once
// at manager construction, before any connection attempt.
func (c StorageConfig) Validate() error {
	if _, err := ParseBackendType(string(c.Type)); err != nil {
		return err
	}
	if c.Type == BackendMSSQL {
		if c.Server == "" {
			return fmt.Errorf("%w: mssql backend requires a server", ErrInvalidConfig)
		}
		if !c.TrustedConnection && (c.Username == "" || c.Password == "") {
			return fmt.Errorf("%w: mssql backend requires username and password unless trusted_connection is set", ErrInvalidConfig)
		}
	}
	return nil
}
