package core

import "errors"

// Error taxonomy for the ledger subsystem. Callers classify failures with
// errors.Is; everything is per-request, nothing here is fatal to the process.
var (
	// ErrValidation marks malformed input rejected before any mutation.
	ErrValidation = errors.New("validation error")

	// ErrConflict marks an optimistic-concurrency failure that exhausted its
	// internal retries. Safe to retry the whole operation.
	ErrConflict = errors.New("conflict")

	// ErrNotFound marks a missing user, reward, or grant.
	ErrNotFound = errors.New("not found")

	// ErrPersistence marks an unreachable or failing storage backend. The
	// triggering event is guaranteed not to have partially applied.
	ErrPersistence = errors.New("persistence error")
)
