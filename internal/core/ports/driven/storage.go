package driven

import (
	"context"

	"github.com/keystone-data/storekit/internal/core/domain"
)

// Storage is the contract every backend adapter implements: collections of
// keyed documents with exact-match querying, bulk writes, and idempotent
// collection management.
//
// # Lifecycle
//
// An adapter moves through a linear state machine:
//
//	Uninitialized -> Connected -> Closed
//
// Closed is terminal; adapters are never re-opened. Every data operation
// invoked outside the Connected state fails with an error wrapping
// domain.ErrConnection.
//
// # Concurrency
//
// One Storage instance is shared by concurrent callers. All operations are
// safe for concurrent use.
type Storage interface {
	// Connect establishes the backend connection and prepares any lazily
	// created schema. Calling Connect on an already connected adapter is a
	// no-op; calling it on a closed adapter fails.
	Connect(ctx context.Context) error

	// Close releases the backend connection. Close is idempotent and moves
	// the adapter to the terminal Closed state.
	Close() error

	// Store creates or fully replaces the document at key. Storing over an
	// existing document is not an error; the value is never partially merged.
	Store(ctx context.Context, collection, key string, value map[string]any) error

	// Retrieve returns the current value, or an error wrapping
	// domain.ErrNotFound if the key does not exist in the collection.
	Retrieve(ctx context.Context, collection, key string) (map[string]any, error)

	// Update replaces the document at key, failing with domain.ErrNotFound
	// if it does not already exist. This distinguishes modify intent from
	// create intent for callers that care.
	Update(ctx context.Context, collection, key string, value map[string]any) error

	// Delete removes the document. Deleting a missing key is not an error;
	// the boolean reports whether something was actually removed.
	Delete(ctx context.Context, collection, key string) (bool, error)

	// Exists reports whether the key is present in the collection.
	Exists(ctx context.Context, collection, key string) (bool, error)

	// ListKeys returns all keys in the collection in lexicographic order.
	// An empty or missing collection yields an empty slice.
	ListKeys(ctx context.Context, collection string) ([]string, error)

	// Query returns every document whose value has each filter field present
	// and exactly equal. Result order is unspecified but stable within one
	// call.
	Query(ctx context.Context, collection string, filters map[string]any) ([]map[string]any, error)

	// BulkStore stores each item independently; one failing item never
	// prevents processing of the rest. The result reports a per-item outcome.
	BulkStore(ctx context.Context, collection string, items []domain.BulkItem) (*domain.BulkResult, error)

	// CreateCollection creates the collection if it does not exist. Creating
	// an existing collection is a no-op. The optional schema is advisory;
	// backends that cannot represent it ignore it.
	CreateCollection(ctx context.Context, collection string, schema map[string]any) error

	// DropCollection removes the collection and every document in it. It is
	// a no-op if the collection does not exist.
	DropCollection(ctx context.Context, collection string) error
}
