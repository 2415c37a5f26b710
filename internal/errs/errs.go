// Package errs defines the sentinel errors behind the error taxonomy in
// spec.md §7. Engines and repositories wrap these with
// github.com/pkg/errors so logs carry a call chain while callers can still
// recover the sentinel via errors.Cause/errors.Is.
package errs

import "github.com/pkg/errors"

var (
	// ErrNotFound is returned by a repository lookup that found no row.
	ErrNotFound = errors.New("not found")

	// ErrValidation marks a caller-supplied value as structurally invalid
	// (bad enum, out-of-range pagination, missing identifier).
	ErrValidation = errors.New("validation failed")

	// ErrActiveJobExists is returned by ReconciliationRepo/Engine.CreateJob
	// when a non-terminal job already exists for (address, chain).
	ErrActiveJobExists = errors.New("active reconciliation job already exists")

	// ErrConcurrentModification is returned by WorkflowRepo.Update when the
	// optimistic version check fails.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrIllegalTransition is returned by the workflow engine when an event
	// has no mapped transition from the workflow's current state.
	ErrIllegalTransition = errors.New("illegal workflow transition")

	// ErrJobNotDeletable is returned by DeleteJob for a job that is not
	// pending.
	ErrJobNotDeletable = errors.New("job is not in a deletable state")
)

// Wrap attaches call-site context to err while preserving the sentinel it
// wraps for errors.Is/errors.Cause.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return errors.WithMessage(err, message)
}

// Is reports whether err (or anything it wraps) is target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
