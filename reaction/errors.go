package reaction

import "errors"

// Errors surfaced to callers of the service. Store-level race signals
// (ErrConflict, ErrNotFound) are resolved inside Toggle and never reach the
// caller; the API layer only ever maps the first three.
var (
	// ErrUnauthenticated means no user identity was supplied. No mutation is
	// performed.
	ErrUnauthenticated = errors.New("reaction: unauthenticated")

	// ErrInvalidKind means the requested kind is not in the closed kind set.
	// Rejected before any store access.
	ErrInvalidKind = errors.New("reaction: invalid kind")

	// ErrInvalidTarget means the target type is not post/comment or the ID is
	// not a positive integer.
	ErrInvalidTarget = errors.New("reaction: invalid target")

	// ErrStoreUnavailable means a store operation failed or timed out. The
	// operation is retryable; no partial state change is guaranteed visible.
	ErrStoreUnavailable = errors.New("reaction: store unavailable")

	// ErrConflict is returned by Store.Insert when a record already exists
	// for the (user, target) tuple.
	ErrConflict = errors.New("reaction: record already exists")

	// ErrNotFound is returned by Store.Get, Store.UpdateKind and Store.Delete
	// when no record exists for the (user, target) tuple.
	ErrNotFound = errors.New("reaction: record not found")
)
