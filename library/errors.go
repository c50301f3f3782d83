package library

import "errors"

// Error kinds. Callers branch with errors.Is; the kind alone is enough to
// pick a user-facing message. All of them are recoverable.
var (
	// ErrValidation covers malformed input: empty required fields,
	// duplicate ISBN or email.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound means a referenced book, loan or member id is absent.
	ErrNotFound = errors.New("not found")

	// ErrConflict means the operation lost to existing state, e.g. a
	// borrow attempt on a book that already has an open loan.
	ErrConflict = errors.New("conflict")

	// ErrInvalidState means an illegal lifecycle transition, e.g. renewing
	// an overdue loan or returning a loan twice.
	ErrInvalidState = errors.New("invalid state")

	// ErrAuthorization means the caller's identity or role does not permit
	// the operation.
	ErrAuthorization = errors.New("not authorized")

	// ErrConsistency means a two-step mutation failed half-way and the
	// compensating rollback failed too; the availability invariant may be
	// broken and the error must not be ignored.
	ErrConsistency = errors.New("consistency violation")
)
