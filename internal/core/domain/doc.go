// Package domain defines the core entities for storekit.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - Document: A stored record with its key, value and bookkeeping timestamps
//   - StorageConfig: Backend selection and connection settings
//   - BackendType: The closed set of supported storage backends
//   - BulkItem / BulkResult: Batch write inputs and per-item outcomes
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
