// Package storage implements NornicDB's durable graph storage engine: an
// in-memory, multi-version-concurrency-control store of vertices and edges
// with a write-ahead log and periodic snapshots, coordinated by a garbage
// collector.
//
// The storage layer does not know about Cypher, the Bolt wire protocol, or
// replication — it exposes a transactional Accessor and calls out to
// index/constraint hooks owned elsewhere. See Storage and Accessor for the
// main entry points.
package storage

import "errors"

// Error kinds returned by storage operations. Mutation methods return one
// of these (wrapped with context via fmt.Errorf's %w) rather than panicking;
// only ErrIO during a WAL append and ErrRecoveryFailure during startup are
// fatal, everything else is transactional and recoverable by retry or abort.
var (
	// ErrSerialization means a writer observed a delta chain head newer
	// than its own start timestamp, or owned by another live transaction.
	// The caller should abort and retry.
	ErrSerialization = errors.New("storage: serialization conflict, retry transaction")

	// ErrConstraintViolation is returned by commit when a declared
	// existence or unique constraint is violated by the NEW view.
	ErrConstraintViolation = errors.New("storage: constraint violation")

	// ErrVertexHasEdges is returned by DeleteVertex when the vertex still
	// has visible incident edges; use DetachDeleteVertex instead.
	ErrVertexHasEdges = errors.New("storage: vertex has edges")

	// ErrPropertyValueTooLarge is returned when encoding a property value
	// whose serialized size exceeds the configured cap.
	ErrPropertyValueTooLarge = errors.New("storage: property value too large")

	// ErrNotFound is returned when a vertex, edge, or declaration lookup
	// fails.
	ErrNotFound = errors.New("storage: not found")

	// ErrAlreadyExists is not returned by any storage operation: repeated
	// index/constraint declarations succeed as no-ops.
	ErrAlreadyExists = errors.New("storage: already exists")

	// ErrIO wraps failures writing the WAL or a snapshot to disk.
	ErrIO = errors.New("storage: io error")

	// ErrRecoveryFailure is fatal: a corrupted snapshot (or a WAL whose
	// header lies about its own content) was encountered during startup.
	ErrRecoveryFailure = errors.New("storage: recovery failure")

	// ErrTransactionClosed is returned by any Accessor method called
	// after Commit or Abort.
	ErrTransactionClosed = errors.New("storage: transaction already closed")

	// ErrInvalidConfig is returned by Open when the Config fails
	// validation (e.g. a negative SnapshotRetention; zero means unset and
	// takes DefaultConfig's value).
	ErrInvalidConfig = errors.New("storage: invalid configuration")

	// ErrPropertiesOnEdgesDisabled is returned by edge property mutation
	// methods when Config.PropertiesOnEdges is false.
	ErrPropertiesOnEdgesDisabled = errors.New("storage: properties-on-edges is disabled")

	// ErrStorageClosed is returned by Storage.Access after Close, and by a
	// commit or schema declaration that reaches the WAL after it was closed.
	ErrStorageClosed = errors.New("storage: closed")
)
