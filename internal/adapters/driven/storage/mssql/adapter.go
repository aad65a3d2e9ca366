// Package mssql provides a Storage implementation backed by a remote
// Microsoft SQL Server, using github.com/microsoft/go-mssqldb.
//
// Configuration supports integrated (trusted) authentication or explicit
// username/password, plus the encrypt and trust_server_certificate
// transport flags. Connect fails fast with a descriptive connection error
// when credentials or network reachability are wrong; the storage manager
// is responsible for the fallback policy on such failures.
//
// The documents live in one storage_records table keyed by
// (collection, key_name), bootstrapped on Connect, mirroring the embedded
// backend so the two are interchangeable behind the port.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/microsoft/go-mssqldb" // SQL Server driver

	"github.com/keystone-data/storekit/internal/core/domain"
	"github.com/keystone-data/storekit/internal/core/ports/driven"
	"github.com/keystone-data/storekit/internal/logger"
)

// Ensure Adapter implements the port.
var _ driven.Storage = (*Adapter)(nil)

// driverName is the database/sql registration of go-mssqldb.
const driverName = "sqlserver"

const schemaSQL = `
IF OBJECT_ID(N'storage_records', N'U') IS NULL
CREATE TABLE storage_records (
	collection NVARCHAR(255) NOT NULL,
	key_name   NVARCHAR(255) NOT NULL,
	data       NVARCHAR(MAX) NOT NULL,
	created_at DATETIME2 NOT NULL DEFAULT SYSUTCDATETIME(),
	updated_at DATETIME2 NOT NULL DEFAULT SYSUTCDATETIME(),
	CONSTRAINT pk_storage_records PRIMARY KEY (collection, key_name)
)`

// upsertSQL creates or replaces one document. HOLDLOCK keeps the key range
// locked between the match probe and the write, so two concurrent stores of
// a new key serialise instead of both inserting and one hitting the primary
// key constraint.
const upsertSQL = `
	MERGE storage_records WITH (HOLDLOCK) AS target
	USING (SELECT @p1 AS collection, @p2 AS key_name, @p3 AS data) AS src
	ON target.collection = src.collection AND target.key_name = src.key_name
	WHEN MATCHED THEN
		UPDATE SET data = src.data, updated_at = SYSUTCDATETIME()
	WHEN NOT MATCHED THEN
		INSERT (collection, key_name, data) VALUES (src.collection, src.key_name, src.data);
`

// Available reports whether the SQL Server driver is registered with
// database/sql. The manager consults this before attempting a connection.
func Available() bool {
	return slices.Contains(sql.Drivers(), driverName)
}

// Adapter is the enterprise-SQL Storage implementation.
type Adapter struct {
	cfg        domain.StorageConfig
	dsn        string
	cmdTimeout time.Duration

	mu        sync.Mutex
	db        *sql.DB
	connected bool
	closed    bool
}

// New creates an mssql adapter. The connection descriptor is derived from
// the config once, here; the config is not consulted again after
// construction.
func New(cfg domain.StorageConfig) *Adapter {
	cfg = cfg.Normalized()
	return &Adapter{
		cfg:        cfg,
		dsn:        buildDSN(cfg),
		cmdTimeout: cfg.CommandTimeout,
	}
}

// buildDSN constructs a sqlserver:// connection URL from the structured
// config.
func buildDSN(cfg domain.StorageConfig) string {
	query := url.Values{}
	query.Set("database", cfg.Database)
	if cfg.Encrypt {
		query.Set("encrypt", "true")
	} else {
		query.Set("encrypt", "disable")
	}
	if cfg.TrustServerCertificate {
		query.Set("trustservercertificate", "true")
	}
	if cfg.ConnectionTimeout > 0 {
		query.Set("dial timeout", strconv.Itoa(int(cfg.ConnectionTimeout.Seconds())))
	}

	u := url.URL{
		Scheme:   "sqlserver",
		Host:     cfg.Server,
		RawQuery: query.Encode(),
	}
	// Trusted connections authenticate as the process identity; only the
	// explicit mode carries credentials in the descriptor.
	if !cfg.TrustedConnection {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}
	return u.String()
}

// Connect opens the connection pool, verifies reachability with a bounded
// ping, and bootstraps the schema.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return fmt.Errorf("%w: adapter is closed", domain.ErrConnection)
	}
	if a.connected {
		return nil
	}

	db, err := sql.Open(driverName, a.dsn)
	if err != nil {
		return fmt.Errorf("%w: opening connection to %s: %v", domain.ErrConnection, a.cfg.Server, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, a.cfg.ConnectionTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return fmt.Errorf("%w: server %s unreachable or credentials rejected: %v",
			domain.ErrConnection, a.cfg.Server, err)
	}

	if _, err := db.ExecContext(pingCtx, schemaSQL); err != nil {
		db.Close()
		return fmt.Errorf("%w: initialising schema: %v", domain.ErrConnection, err)
	}

	a.db = db
	a.connected = true
	logger.Debug("mssql storage connected to %s/%s", a.cfg.Server, a.cfg.Database)
	return nil
}

// Close closes the connection pool. Terminal.
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
		return fmt.Errorf("closing connection: %w", err)
	}
	logger.Debug("mssql storage closed")
	return nil
}

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

func (a *Adapter) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cmdTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.cmdTimeout)
}

// Store creates or fully replaces the document at key via MERGE.
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

	_, err = db.ExecContext(ctx, upsertSQL, collection, key, data)
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
		"SELECT data FROM storage_records WHERE collection = @p1 AND key_name = @p2",
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
		UPDATE storage_records SET data = @p1, updated_at = SYSUTCDATETIME()
		WHERE collection = @p2 AND key_name = @p3
	`, data, collection, key)
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
		"DELETE FROM storage_records WHERE collection = @p1 AND key_name = @p2",
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
		"SELECT TOP 1 1 FROM storage_records WHERE collection = @p1 AND key_name = @p2",
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
		"SELECT key_name FROM storage_records WHERE collection = @p1 ORDER BY key_name",
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

// Query scans the collection's rows and evaluates filters in memory, since
// values are opaque JSON documents.
func (a *Adapter) Query(ctx context.Context, collection string, filters map[string]any) ([]map[string]any, error) {
	db, err := a.handle()
	if err != nil {
		return nil, err
	}

	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	rows, err := db.QueryContext(ctx,
		"SELECT data FROM storage_records WHERE collection = @p1 ORDER BY key_name",
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

// BulkStore stores each item independently and reports per-item outcomes.
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

// CreateCollection validates the name. The shared table is bootstrapped on
// Connect, so creation is a no-op and trivially idempotent.
func (a *Adapter) CreateCollection(_ context.Context, collection string, _ map[string]any) error {
	if _, err := a.handle(); err != nil {
		return err
	}
	return domain.ValidateCollection(collection)
}

// DropCollection deletes every document in the collection.
func (a *Adapter) DropCollection(ctx context.Context, collection string) error {
	db, err := a.handle()
	if err != nil {
		return err
	}

	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	if _, err := db.ExecContext(ctx,
		"DELETE FROM storage_records WHERE collection = @p1", collection); err != nil {
		return wrapExecErr("dropping collection", err)
	}
	return nil
}
