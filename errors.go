package geoset

import (
	"errors"
	"fmt"

	"github.com/hupe1980/geoset/engine"
	"github.com/hupe1980/geoset/geometry"
)

var (
	// ErrNotFound is returned when a named image or polygon does not exist.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned for operations on a closed Associator.
	ErrClosed = errors.New("associator closed")

	// ErrNotPersistent is returned when Commit is called on an Associator
	// that was created with New and has no dataset attached.
	ErrNotPersistent = errors.New("not a persistent dataset")
)

// ErrCRSMismatch indicates a shape whose spatial reference system differs
// from the dataset's.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrCRSMismatch struct {
	Want  geometry.SRID
	Got   geometry.SRID
	cause error
}

func (e *ErrCRSMismatch) Error() string {
	return fmt.Sprintf("reference system mismatch: want %s, got %s", e.Want, e.Got)
}

func (e *ErrCRSMismatch) Unwrap() error { return e.cause }

// ErrInvariantViolation reports that the containment graph, the tables and
// the image counts have diverged. It carries the full checker report and is
// treated as a logic bug, not a recoverable condition.
type ErrInvariantViolation struct {
	Report *engine.CheckReport
}

func (e *ErrInvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation: %s", e.Report)
}

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Not found unification.
	if errors.Is(err, engine.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	if errors.Is(err, engine.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	// Reference system normalization.
	var crs *geometry.ErrCRSMismatch
	if errors.As(err, &crs) {
		return &ErrCRSMismatch{Want: crs.Want, Got: crs.Got, cause: err}
	}

	return err
}
