// Package sqlite provides the default Storage implementation, backed by a
// single local database file.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation
// that requires no CGO, enabling easy cross-compilation. All documents live
// in one storage_records table keyed by (collection, key_name); the schema
// is created lazily on Connect.
//
// # Thread Safety
//
// All operations are thread-safe. The adapter relies on database-level
// locking provided by SQLite in WAL mode and adds no shared mutable state
// beyond the lifecycle flags. Each single-document operation runs inside
// the engine's own transaction boundary; BulkStore issues per-item
// statements and is deliberately not wrapped in one transaction.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/keystone-data/storekit/internal/core/domain"
	"github.com/keystone-data/storekit/internal/core/ports/driven"
	"github.com/keystone-data/storekit/internal/logger"
)

// Ensure Adapter implements the port.
var _ driven.Storage = (*Adapter)(nil)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS storage_records (
	collection TEXT NOT NULL,
	key_name   TEXT NOT NULL,
	data       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (collection, key_name)
)`

// Adapter is the embedded-SQL Storage implementation.
type Adapter struct {
	path       string
	cmdTimeout time.Duration

	mu        sync.Mutex
	db        *sql.DB
	connected bool
	closed    bool
}

// New creates a sqlite adapter for the configured database path.
func New(cfg domain.StorageConfig) *Adapter {
	cfg = cfg.Normalized()
	return &Adapter{
		path:       cfg.DatabasePath,
		cmdTimeout: cfg.CommandTimeout,
	}
}

// Path returns the database file path.
func (a *Adapter) Path() string {
	return a.path
}

// Connect opens the database file in WAL mode and ensures the schema.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return fmt.Errorf("%w: adapter is closed", domain.ErrConnection)
	}
	if a.connected {
		return nil
	}

	if dir := filepath.Dir(a.path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("%w: creating data directory: %v", domain.ErrConnection, err)
		}
	}

	// WAL mode for better concurrency, busy timeout for writer contention.
	db, err := sql.Open("sqlite", a.path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("%w: opening database: %v", domain.ErrConnection, err)
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return fmt.Errorf("%w: initialising schema: %v", domain.ErrConnection, err)
	}

	a.db = db
	a.connected = true
	logger.Debug("sqlite storage connected at %s", a.path)
	return nil
}

// Close closes the database connection. Terminal.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.connected = false
	a.closed = true

	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	if err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	logger.Debug("sqlite storage closed")
	return nil
}

// handle returns the live connection or a lifecycle error.
func (a *Adapter) handle() (*sql.DB, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, fmt.Errorf("%w: adapter is closed", domain.ErrConnection)
	}
	if !a.connected {
		return nil, fmt.Errorf("%w: adapter is not connected", domain.ErrConnection)
	}
	return a.db, nil
}

// opCtx bounds one statement with the configured command timeout.
func (a *Adapter) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cmdTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.cmdTimeout)
}

// Store creates or fully replaces the document at key.
func (a *Adapter) Store(ctx context.Context, collection, key string, value map[string]any) error {
	db, err := a.handle()
	if err != nil {
		return err
	}
	if err := domain.ValidateCollection(collection); err != nil {
		return err
	}
	if err := domain.ValidateKey(key); err != nil {
		return err
	}
	data, err := marshalValue(value)
	if err != nil {
		return err
	}

	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	now := time.Now().UTC()
	_, err = db.ExecContext(ctx, `
		INSERT INTO storage_records (collection, key_name, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection, key_name) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at
	`, collection, key, data, now, now)
	if err != nil {
		return wrapExecErr("storing document", err)
	}
	return nil
}

// Retrieve returns the current value for key.
func (a *Adapter) Retrieve(ctx context.Context, collection, key string) (map[string]any, error) {
	db, err := a.handle()
	if err != nil {
		return nil, err
	}

	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	var data string
	row := db.QueryRowContext(ctx,
		"SELECT data FROM storage_records WHERE collection = ? AND key_name = ?",
		collection, key)
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", domain.ErrNotFound, collection, key)
		}
		return nil, wrapExecErr("retrieving document", err)
	}
	return unmarshalValue(data)
}

// Update replaces an existing document, failing if the key is absent.
func (a *Adapter) Update(ctx context.Context, collection, key string, value map[string]any) error {
	db, err := a.handle()
	if err != nil {
		return err
	}
	data, err := marshalValue(value)
	if err != nil {
		return err
	}

	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	res, err := db.ExecContext(ctx, `
		UPDATE storage_records SET data = ?, updated_at = ?
		WHERE collection = ? AND key_name = ?
	`, data, time.Now().UTC(), collection, key)
	if err != nil {
		return wrapExecErr("updating document", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapExecErr("updating document", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", domain.ErrNotFound, collection, key)
	}
	return nil
}

// Delete removes the document. Idempotent.
func (a *Adapter) Delete(ctx context.Context, collection, key string) (bool, error) {
	db, err := a.handle()
	if err != nil {
		return false, err
	}

	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	res, err := db.ExecContext(ctx,
		"DELETE FROM storage_records WHERE collection = ? AND key_name = ?",
		collection, key)
	if err != nil {
		return false, wrapExecErr("deleting document", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapExecErr("deleting document", err)
	}
	return n > 0, nil
}

// Exists reports whether the key is present.
func (a *Adapter) Exists(ctx context.Context, collection, key string) (bool, error) {
	db, err := a.handle()
	if err != nil {
		return false, err
	}

	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	var one int
	row := db.QueryRowContext(ctx,
		"SELECT 1 FROM storage_records WHERE collection = ? AND key_name = ? LIMIT 1",
		collection, key)
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, wrapExecErr("checking existence", err)
	}
	return true, nil
}

// ListKeys returns all keys in the collection in lexicographic order.
func (a *Adapter) ListKeys(ctx context.Context, collection string) ([]string, error) {
	db, err := a.handle()
	if err != nil {
		return nil, err
	}

	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	rows, err := db.QueryContext(ctx,
		"SELECT key_name FROM storage_records WHERE collection = ? ORDER BY key_name",
		collection)
	if err != nil {
		return nil, wrapExecErr("listing keys", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, wrapExecErr("scanning key", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapExecErr("iterating keys", err)
	}
	return keys, nil
}

// Query scans the collection's rows and evaluates filters in memory.
// Filter evaluation cannot be pushed into SQL because values are opaque
// JSON documents.
func (a *Adapter) Query(ctx context.Context, collection string, filters map[string]any) ([]map[string]any, error) {
	db, err := a.handle()
	if err != nil {
		return nil, err
	}

	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	rows, err := db.QueryContext(ctx,
		"SELECT data FROM storage_records WHERE collection = ? ORDER BY key_name",
		collection)
	if err != nil {
		return nil, wrapExecErr("querying documents", err)
	}
	defer rows.Close()

	var results []map[string]any
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, wrapExecErr("scanning document", err)
		}
		value, err := unmarshalValue(data)
		if err != nil {
			return nil, err
		}
		if domain.Matches(value, filters) {
			results = append(results, value)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, wrapExecErr("iterating documents", err)
	}
	return results, nil
}

// BulkStore stores each item independently; no wrapping transaction, so a
// failing item never rolls back its neighbours.
func (a *Adapter) BulkStore(ctx context.Context, collection string, items []domain.BulkItem) (*domain.BulkResult, error) {
	if _, err := a.handle(); err != nil {
		return nil, err
	}
	if err := domain.ValidateCollection(collection); err != nil {
		return nil, err
	}

	result := &domain.BulkResult{Items: make([]domain.BulkItemResult, 0, len(items))}
	for _, item := range items {
		key := item.Key
		if key == "" {
			key = uuid.NewString()
		}
		err := a.Store(ctx, collection, key, item.Value)
		result.Items = append(result.Items, domain.BulkItemResult{Key: key, Err: err})
		if err != nil {
			result.Failed++
		} else {
			result.Stored++
		}
	}
	return result, nil
}

// CreateCollection validates the name. The shared table is created lazily
// on Connect, so creation is a metadata-free no-op and trivially idempotent.
func (a *Adapter) CreateCollection(_ context.Context, collection string, _ map[string]any) error {
	if _, err := a.handle(); err != nil {
		return err
	}
	return domain.ValidateCollection(collection)
}

// DropCollection deletes every document in the collection. No-op when the
// collection has none.
func (a *Adapter) DropCollection(ctx context.Context, collection string) error {
	db, err := a.handle()
	if err != nil {
		return err
	}

	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	if _, err := db.ExecContext(ctx,
		"DELETE FROM storage_records WHERE collection = ?", collection); err != nil {
		return wrapExecErr("dropping collection", err)
	}
	return nil
}

func marshalValue(value map[string]any) (string, error) {
	if value == nil {
		value = map[string]any{}
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("%w: value is not serializable: %v", domain.ErrData, err)
	}
	return string(data), nil
}

func unmarshalValue(data string) (map[string]any, error) {
	var value map[string]any
	if err := json.Unmarshal([]byte(data), &value); err != nil {
		return nil, fmt.Errorf("%w: decoding stored value: %v", domain.ErrData, err)
	}
	return value, nil
}

// wrapExecErr classifies a database error: context expiry means the
// operation timed out (a connection-kind failure), everything else is a
// data-kind failure.
func wrapExecErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s: %v", domain.ErrConnection, op, err)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrData, op, err)
}
