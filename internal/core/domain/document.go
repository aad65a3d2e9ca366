package domain

import "time"

// Document represents one stored record: a key plus its structured value
// and the bookkeeping timestamps maintained by the adapter.
type Document struct {
	// Collection is the namespace the document belongs to.
	Collection string

	// Key is the unique identifier within the collection.
	Key string

	// Value is the caller-supplied structured record. Values are JSON-like:
	// scalars, nested mappings and ordered sequences of these.
	Value map[string]any

	// CreatedAt is when the document was first stored.
	CreatedAt time.Time

	// UpdatedAt is when the document was last replaced.
	UpdatedAt time.Time
}

// BulkItem is one entry in a BulkStore batch. An empty Key is replaced by a
// generated identifier before storing.
type BulkItem struct {
	Key   string
	Value map[string]any
}

// BulkItemResult reports the outcome for a single BulkStore item.
// Err is nil on success and carries the typed failure otherwise.
type BulkItemResult struct {
	Key string
	Err error
}

// BulkResult reports per-item outcomes of a BulkStore call. Items succeed or
// fail independently; cross-item atomicity is never guaranteed, so a partial
// result is the normal shape, not an error condition.
type BulkResult struct {
	// Items holds one result per input item, in input order.
	Items []BulkItemResult

	// Stored is the number of items genuinely written to the backend.
	Stored int

	// Failed is the number of items that could not be written.
	Failed int
}

// Ok reports whether every item in the batch was stored.
func (r *BulkResult) Ok() bool {
	return r.Failed == 0
}
