// Package file provides a flat-file implementation of the Storage port.
//
// Each collection maps to a directory under the configured base path; each
// document is one JSON file named by its key, holding the value plus
// bookkeeping timestamps. Writes go to a temporary path and rename into
// place, so a crash mid-write never leaves a half-written document.
//
// Query has no index: it reads every file in the collection and evaluates
// filters in memory. That linear scan is the backend's defining cost
// trade-off, so reads are dispatched through a shared goroutine pool.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/keystone-data/storekit/internal/core/domain"
	"github.com/keystone-data/storekit/internal/core/ports/driven"
	"github.com/keystone-data/storekit/internal/logger"
)

// Ensure Adapter implements the port.
var _ driven.Storage = (*Adapter)(nil)

const (
	fileExt    = ".json"
	schemaFile = ".schema.json"
)

// envelope is the on-disk document shape.
type envelope struct {
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Adapter is the flat-file Storage implementation.
type Adapter struct {
	basePath string

	mu        sync.Mutex
	connected bool
	closed    bool

	// pool runs the Query file scans. Created on Connect, released on Close.
	pool *ants.Pool
}

// New creates a file adapter rooted at the configured base path.
func New(cfg domain.StorageConfig) *Adapter {
	cfg = cfg.Normalized()
	return &Adapter{basePath: cfg.BasePath}
}

// Connect creates the base directory and the scan pool.
func (a *Adapter) Connect(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return fmt.Errorf("%w: adapter is closed", domain.ErrConnection)
	}
	if a.connected {
		return nil
	}

	if err := os.MkdirAll(a.basePath, 0700); err != nil {
		return fmt.Errorf("%w: creating base directory %s: %v", domain.ErrConnection, a.basePath, err)
	}

	pool, err := ants.NewPool(runtime.NumCPU())
	if err != nil {
		return fmt.Errorf("%w: creating scan pool: %v", domain.ErrConnection, err)
	}
	a.pool = pool

	a.connected = true
	logger.Debug("file storage connected at %s", a.basePath)
	return nil
}

// Close releases the scan pool and moves the adapter to Closed.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	if a.pool != nil {
		a.pool.Release()
		a.pool = nil
	}
	a.connected = false
	a.closed = true
	logger.Debug("file storage closed")
	return nil
}

func (a *Adapter) guard() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("%w: adapter is closed", domain.ErrConnection)
	}
	if !a.connected {
		return fmt.Errorf("%w: adapter is not connected", domain.ErrConnection)
	}
	return nil
}

func (a *Adapter) collectionDir(collection string) string {
	return filepath.Join(a.basePath, collection)
}

func (a *Adapter) documentPath(collection, key string) string {
	return filepath.Join(a.basePath, collection, key+fileExt)
}

// Store creates or fully replaces the document at key.
func (a *Adapter) Store(ctx context.Context, collection, key string, value map[string]any) error {
	if err := a.guard(); err != nil {
		return err
	}
	if err := domain.ValidateCollection(collection); err != nil {
		return err
	}
	if err := domain.ValidateKey(key); err != nil {
		return err
	}
	copied, err := domain.CopyValue(value)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(a.collectionDir(collection), 0700); err != nil {
		return fmt.Errorf("%w: creating collection directory: %v", domain.ErrData, err)
	}

	path := a.documentPath(collection, key)
	now := time.Now().UTC()
	env := envelope{Data: copied, CreatedAt: now, UpdatedAt: now}

	// Replacement keeps the original creation timestamp.
	if prev, err := readEnvelope(path); err == nil {
		env.CreatedAt = prev.CreatedAt
	}

	return writeEnvelope(path, env)
}

// Retrieve reads the document value from its file.
func (a *Adapter) Retrieve(_ context.Context, collection, key string) (map[string]any, error) {
	if err := a.guard(); err != nil {
		return nil, err
	}
	// Keys become file paths here, so malformed names can never resolve.
	if domain.ValidateCollection(collection) != nil || domain.ValidateKey(key) != nil {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrNotFound, collection, key)
	}

	env, err := readEnvelope(a.documentPath(collection, key))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrNotFound, collection, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s/%s: %v", domain.ErrData, collection, key, err)
	}
	return env.Data, nil
}

// Update replaces an existing document, failing if the key is absent.
func (a *Adapter) Update(ctx context.Context, collection, key string, value map[string]any) error {
	if err := a.guard(); err != nil {
		return err
	}
	if domain.ValidateCollection(collection) != nil || domain.ValidateKey(key) != nil {
		return fmt.Errorf("%w: %s/%s", domain.ErrNotFound, collection, key)
	}
	if _, err := os.Stat(a.documentPath(collection, key)); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s/%s", domain.ErrNotFound, collection, key)
	}
	return a.Store(ctx, collection, key, value)
}

// Delete removes the document file. Idempotent.
func (a *Adapter) Delete(_ context.Context, collection, key string) (bool, error) {
	if err := a.guard(); err != nil {
		return false, err
	}
	if domain.ValidateCollection(collection) != nil || domain.ValidateKey(key) != nil {
		return false, nil
	}

	err := os.Remove(a.documentPath(collection, key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: deleting %s/%s: %v", domain.ErrData, collection, key, err)
	}
	return true, nil
}

// Exists reports whether the document file is present.
func (a *Adapter) Exists(_ context.Context, collection, key string) (bool, error) {
	if err := a.guard(); err != nil {
		return false, err
	}
	if domain.ValidateCollection(collection) != nil || domain.ValidateKey(key) != nil {
		return false, nil
	}

	_, err := os.Stat(a.documentPath(collection, key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: checking %s/%s: %v", domain.ErrData, collection, key, err)
	}
	return true, nil
}

// ListKeys enumerates directory entries, sorted lexicographically.
func (a *Adapter) ListKeys(_ context.Context, collection string) ([]string, error) {
	if err := a.guard(); err != nil {
		return nil, err
	}
	// Collection names become directory paths here; a name that cannot
	// resolve inside the base directory holds no keys.
	if domain.ValidateCollection(collection) != nil {
		return []string{}, nil
	}

	entries, err := os.ReadDir(a.collectionDir(collection))
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: listing collection %s: %v", domain.ErrData, collection, err)
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, fileExt))
	}
	sort.Strings(keys)
	return keys, nil
}

// Query reads every document in the collection and evaluates filters in
// memory. File reads run on the shared pool; malformed files are skipped
// with a warning rather than failing the whole scan.
func (a *Adapter) Query(ctx context.Context, collection string, filters map[string]any) ([]map[string]any, error) {
	keys, err := a.ListKeys(ctx, collection)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	pool := a.pool
	a.mu.Unlock()
	if pool == nil {
		return nil, fmt.Errorf("%w: adapter is not connected", domain.ErrConnection)
	}

	// One slot per key keeps result order deterministic by file name.
	matched := make([]map[string]any, len(keys))
	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		path := a.documentPath(collection, key)
		slot := i
		submitErr := pool.Submit(func() {
			defer wg.Done()
			env, err := readEnvelope(path)
			if err != nil {
				logger.Warn("skipping unreadable document %s: %v", path, err)
				return
			}
			if domain.Matches(env.Data, filters) {
				matched[slot] = env.Data
			}
		})
		if submitErr != nil {
			wg.Done()
			return nil, fmt.Errorf("%w: scan pool: %v", domain.ErrConnection, submitErr)
		}
	}
	wg.Wait()

	var results []map[string]any
	for _, value := range matched {
		if value != nil {
			results = append(results, value)
		}
	}
	return results, nil
}

// BulkStore stores each item independently and reports per-item outcomes.
func (a *Adapter) BulkStore(ctx context.Context, collection string, items []domain.BulkItem) (*domain.BulkResult, error) {
	if err := a.guard(); err != nil {
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

// CreateCollection creates the collection directory. Idempotent. When a
// schema is supplied it is recorded alongside the documents for inspection;
// this backend does not enforce it.
func (a *Adapter) CreateCollection(_ context.Context, collection string, schema map[string]any) error {
	if err := a.guard(); err != nil {
		return err
	}
	if err := domain.ValidateCollection(collection); err != nil {
		return err
	}

	dir := a.collectionDir(collection)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("%w: creating collection %s: %v", domain.ErrData, collection, err)
	}

	if schema != nil {
		data, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			return fmt.Errorf("%w: encoding schema: %v", domain.ErrData, err)
		}
		if err := atomicWrite(filepath.Join(dir, schemaFile), data); err != nil {
			return fmt.Errorf("%w: writing schema: %v", domain.ErrData, err)
		}
	}
	return nil
}

// DropCollection removes the collection directory and everything in it.
func (a *Adapter) DropCollection(_ context.Context, collection string) error {
	if err := a.guard(); err != nil {
		return err
	}
	if err := domain.ValidateCollection(collection); err != nil {
		return err
	}

	if err := os.RemoveAll(a.collectionDir(collection)); err != nil {
		return fmt.Errorf("%w: dropping collection %s: %v", domain.ErrData, collection, err)
	}
	return nil
}

// readEnvelope loads one document file.
func readEnvelope(path string) (*envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return &env, nil
}

// writeEnvelope serialises and atomically writes one document file.
func writeEnvelope(path string, env envelope) error {
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding document: %v", domain.ErrData, err)
	}
	if err := atomicWrite(path, data); err != nil {
		return fmt.Errorf("%w: writing document: %v", domain.ErrData, err)
	}
	return nil
}

// atomicWrite writes to a temp file in the target directory, then renames
// into place.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".write-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
