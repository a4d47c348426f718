// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (optimistic locking).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates a request violates a domain invariant, such as an
// illegal state transition. Validation failures are surfaced to the caller
// and never retried automatically.
var ErrValidation = errors.New("validation failed")
