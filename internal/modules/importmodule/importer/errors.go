package importer

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed job options or parameters. It is
// returned before any state change happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a single field
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// InvalidTransitionError reports a disallowed job status transition.
// It always indicates a programming error, never user input.
type InvalidTransitionError struct {
	JobID uint
	From  JobStatus
	To    JobStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("job %d: invalid transition %s -> %s", e.JobID, e.From, e.To)
}

// IllegalTransitionError reports a disallowed item status transition,
// typically an attempt to leave a terminal state by any path other
// than the explicit retry reset.
type IllegalTransitionError struct {
	ItemID uint
	From   ItemStatus
	To     ItemStatus
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("item %d: illegal transition %s -> %s", e.ItemID, e.From, e.To)
}

// IOError wraps a file read or object upload failure. Fatal to the
// affected item only.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// DependencyError wraps a preview or AI service failure. The pipeline
// degrades gracefully on these; they are never fatal to an item.
type DependencyError struct {
	Service string
	Err     error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s service: %v", e.Service, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// DatabaseError wraps a persistence failure. Fatal to the item and, if
// a design record was already created, triggers the compensating delete.
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database %s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error { return e.Err }

// ErrJobNotFound is returned by the job store when no row matches
var ErrJobNotFound = errors.New("import job not found")

// ErrItemNotFound is returned by the item store when no row matches
var ErrItemNotFound = errors.New("import item not found")

// ErrItemNotClaimed is returned by Claim when another worker already
// owns the item or it is no longer pending.
var ErrItemNotClaimed = errors.New("import item already claimed")

// ErrRetriesExhausted is returned by ResetForRetry once an item has
// used up its retry budget.
var ErrRetriesExhausted = errors.New("import item retries exhausted")

// IsFatalItemError reports whether an error should fail the item
// outright. Dependency errors degrade instead of failing.
func IsFatalItemError(err error) bool {
	if err == nil {
		return false
	}
	var depErr *DependencyError
	return !errors.As(err, &depErr)
}
