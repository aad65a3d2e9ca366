// Package memory provides a volatile, process-local implementation of the
// Storage port backed by nested maps.
//
// Mutations deep-copy the caller's value on Store/Update and return deep
// copies on Retrieve/Query, so callers can never mutate internal state
// through returned references. This isolation guarantee is part of the
// contract, not an implementation detail.
//
// Optional snapshot persistence writes the whole structure to a JSON file
// on Close and reloads it on Connect, giving best-effort durability without
// changing the interface contract.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/keystone-data/storekit/internal/core/domain"
	"github.com/keystone-data/storekit/internal/core/ports/driven"
	"github.com/keystone-data/storekit/internal/logger"
)

// Ensure Adapter implements the port.
var _ driven.Storage = (*Adapter)(nil)

// record is one stored document with its bookkeeping timestamps.
type record struct {
	Value     map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Adapter is the in-memory Storage implementation.
type Adapter struct {
	mu          sync.RWMutex
	collections map[string]map[string]record
	connected   bool
	closed      bool

	persist  bool
	filePath string
}

// New creates an in-memory adapter from config. The adapter starts in the
// Uninitialized state; call Connect before use.
func New(cfg domain.StorageConfig) *Adapter {
	cfg = cfg.Normalized()
	return &Adapter{
		collections: make(map[string]map[string]record),
		persist:     cfg.PersistToFile,
		filePath:    cfg.FilePath,
	}
}

// Connect initialises the store, loading the snapshot file when persistence
// is enabled and a snapshot exists.
func (a *Adapter) Connect(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return fmt.Errorf("%w: adapter is closed", domain.ErrConnection)
	}
	if a.connected {
		return nil
	}

	if a.persist {
		if err := a.loadSnapshot(); err != nil {
			return fmt.Errorf("%w: loading snapshot: %v", domain.ErrConnection, err)
		}
	}

	a.connected = true
	logger.Debug("memory storage connected (persist=%v)", a.persist)
	return nil
}

// Close writes the snapshot when persistence is enabled and moves the
// adapter to the terminal Closed state.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}

	if a.persist && a.connected {
		if err := a.saveSnapshot(); err != nil {
			a.connected = false
			a.closed = true
			return fmt.Errorf("saving snapshot: %w", err)
		}
	}

	a.connected = false
	a.closed = true
	logger.Debug("memory storage closed")
	return nil
}

// guard checks the lifecycle state. Caller must hold at least a read lock.
func (a *Adapter) guard() error {
	if a.closed {
		return fmt.Errorf("%w: adapter is closed", domain.ErrConnection)
	}
	if !a.connected {
		return fmt.Errorf("%w: adapter is not connected", domain.ErrConnection)
	}
	return nil
}

// Store creates or fully replaces the document at key.
func (a *Adapter) Store(_ context.Context, collection, key string, value map[string]any) error {
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

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.guard(); err != nil {
		return err
	}

	a.put(collection, key, copied)
	return nil
}

// put writes a record, preserving CreatedAt across replacements.
// Caller must hold the write lock.
func (a *Adapter) put(collection, key string, value map[string]any) {
	docs, ok := a.collections[collection]
	if !ok {
		docs = make(map[string]record)
		a.collections[collection] = docs
	}

	now := time.Now().UTC()
	rec := record{Value: value, CreatedAt: now, UpdatedAt: now}
	if prev, ok := docs[key]; ok {
		rec.CreatedAt = prev.CreatedAt
	}
	docs[key] = rec
}

// Retrieve returns a deep copy of the stored value.
func (a *Adapter) Retrieve(_ context.Context, collection, key string) (map[string]any, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if err := a.guard(); err != nil {
		return nil, err
	}

	rec, ok := a.collections[collection][key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrNotFound, collection, key)
	}
	return domain.CopyValue(rec.Value)
}

// Update replaces an existing document, failing if the key is absent.
func (a *Adapter) Update(_ context.Context, collection, key string, value map[string]any) error {
	copied, err := domain.CopyValue(value)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.guard(); err != nil {
		return err
	}

	if _, ok := a.collections[collection][key]; !ok {
		return fmt.Errorf("%w: %s/%s", domain.ErrNotFound, collection, key)
	}
	a.put(collection, key, copied)
	return nil
}

// Delete removes the document. Deleting a missing key is not an error.
func (a *Adapter) Delete(_ context.Context, collection, key string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.guard(); err != nil {
		return false, err
	}

	docs, ok := a.collections[collection]
	if !ok {
		return false, nil
	}
	if _, ok := docs[key]; !ok {
		return false, nil
	}
	delete(docs, key)
	return true, nil
}

// Exists reports whether the key is present.
func (a *Adapter) Exists(_ context.Context, collection, key string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if err := a.guard(); err != nil {
		return false, err
	}

	_, ok := a.collections[collection][key]
	return ok, nil
}

// ListKeys returns all keys in the collection in lexicographic order.
func (a *Adapter) ListKeys(_ context.Context, collection string) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if err := a.guard(); err != nil {
		return nil, err
	}

	docs := a.collections[collection]
	keys := make([]string, 0, len(docs))
	for key := range docs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Query returns deep copies of every document matching all filters exactly.
func (a *Adapter) Query(_ context.Context, collection string, filters map[string]any) ([]map[string]any, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if err := a.guard(); err != nil {
		return nil, err
	}

	docs := a.collections[collection]
	keys := make([]string, 0, len(docs))
	for key := range docs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var results []map[string]any
	for _, key := range keys {
		rec := docs[key]
		if !domain.Matches(rec.Value, filters) {
			continue
		}
		copied, err := domain.CopyValue(rec.Value)
		if err != nil {
			return nil, err
		}
		results = append(results, copied)
	}
	return results, nil
}

// BulkStore stores each item independently and reports per-item outcomes.
func (a *Adapter) BulkStore(ctx context.Context, collection string, items []domain.BulkItem) (*domain.BulkResult, error) {
	if err := domain.ValidateCollection(collection); err != nil {
		return nil, err
	}
	a.mu.RLock()
	err := a.guard()
	a.mu.RUnlock()
	if err != nil {
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

// CreateCollection ensures the collection exists. Idempotent. The schema is
// advisory and not enforced by this backend.
func (a *Adapter) CreateCollection(_ context.Context, collection string, _ map[string]any) error {
	if err := domain.ValidateCollection(collection); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.guard(); err != nil {
		return err
	}

	if _, ok := a.collections[collection]; !ok {
		a.collections[collection] = make(map[string]record)
	}
	return nil
}

// DropCollection removes the collection and all its documents. No-op when
// the collection does not exist.
func (a *Adapter) DropCollection(_ context.Context, collection string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.guard(); err != nil {
		return err
	}

	delete(a.collections, collection)
	return nil
}

// loadSnapshot reads the snapshot file. A missing file is not an error.
// Caller must hold the write lock.
func (a *Adapter) loadSnapshot() error {
	data, err := os.ReadFile(a.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var collections map[string]map[string]record
	if err := json.Unmarshal(data, &collections); err != nil {
		return fmt.Errorf("decoding snapshot %s: %w", a.filePath, err)
	}
	a.collections = collections
	if a.collections == nil {
		a.collections = make(map[string]map[string]record)
	}
	return nil
}

// saveSnapshot writes the snapshot atomically: temp file, then rename.
// Caller must hold the write lock.
func (a *Adapter) saveSnapshot() error {
	data, err := json.MarshalIndent(a.collections, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	dir := filepath.Dir(a.filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("creating temp snapshot: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing snapshot: %w", err)
	}
	return os.Rename(tmp.Name(), a.filePath)
}
