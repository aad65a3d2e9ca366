package domain

import "errors"

// Storage errors form a small closed taxonomy. Adapters raise the most
// specific applicable kind, wrapped with operation context via fmt.Errorf
// and %w so callers can match with errors.Is.
var (
	// ErrNotFound indicates a requested document does not exist.
	// Raised only by Retrieve and Update; never by Store, Delete or Exists.
	ErrNotFound = errors.New("not found")

	// ErrInvalidConfig indicates an invalid or incomplete StorageConfig.
	// Raised at construction time, before any connection attempt.
	ErrInvalidConfig = errors.New("invalid storage configuration")

	// ErrConnection indicates a failure to establish or maintain a backend
	// connection, including timeouts and operations invoked outside the
	// Connected state. Never raised for ordinary not-found conditions.
	ErrConnection = errors.New("storage connection error")

	// ErrData indicates a malformed value, serialization failure, invalid
	// key, or constraint violation during a write.
	ErrData = errors.New("storage data error")
)
