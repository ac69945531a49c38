// Package sentinel names the storage facts the document, counter and cache
// stores report. Services translate them into domain-errors codes; callers
// outside the service layer should never see them unwrapped.
package sentinel

import "errors"

var (
	// ErrNotFound: no row, no cached answer, or a document in another
	// organization.
	ErrNotFound = errors.New("not found")
	// ErrConflict: a serialization failure, deadlock, lock timeout, or a
	// write that would create a second original.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState: the caller broke the store's protocol, such as
	// advancing a counter it did not lock.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnavailable: the backing service could not be reached.
	ErrUnavailable = errors.New("unavailable")
)
