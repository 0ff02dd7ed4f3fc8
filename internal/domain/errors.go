package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Wrap with fmt.Errorf("...: %w", Err...) and classify with
// errors.Is.
var (
	ErrFetch       = errors.New("fetch failed")
	ErrParse       = errors.New("parse failed")
	ErrNormalize   = errors.New("normalize failed")
	ErrGeometry    = errors.New("invalid geometry")
	ErrPersistence = errors.New("persistence failed")
	ErrConfig      = errors.New("invalid configuration")

	// ErrRunInProgress is returned when another run holds the run guard.
	ErrRunInProgress = errors.New("run already in progress")
	// ErrSpatialUnsupported is returned by stores without native spatial
	// predicates; callers fall back to planar geometry.
	ErrSpatialUnsupported = errors.New("spatial predicates unsupported")
	// ErrNotFound is returned when a looked-up alert does not exist.
	ErrNotFound = errors.New("not found")
)

// Stage names the pipeline step an entry failed in.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageNormalize Stage = "normalize"
	StagePersist   Stage = "persist"
	StageMatch     Stage = "match"
)

// EntryError is a per-entry failure that was skipped without aborting the run.
type EntryError struct {
	EntryID string
	Stage   Stage
	Err     error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("entry %s: %s: %v", e.EntryID, e.Stage, e.Err)
}

func (e *EntryError) Unwrap() error {
	return e.Err
}
