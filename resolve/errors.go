package resolve

import (
	"errors"
	"fmt"

	"github.com/git-pkgs/repositories/internal/core"
)

var (
	// ErrModelNotFound is wrapped by MissingModelError: the model exists
	// neither locally nor on any remote source.
	ErrModelNotFound = errors.New("model not found")

	// ErrModelBroken is wrapped by InvalidModelError and MislocatedModelError:
	// a model was found but cannot be used.
	ErrModelBroken = errors.New("model broken")
)

// MissingModelError is returned when no source has the requested model.
type MissingModelError struct {
	Repository string
	Coordinate core.Coordinate
}

func (e *MissingModelError) Error() string {
	return fmt.Sprintf("model %s not found in %s or its remotes", e.Coordinate, e.Repository)
}

func (e *MissingModelError) Unwrap() error {
	return ErrModelNotFound
}

// InvalidModelError is returned when a model or one of its parents cannot be
// read or parsed.
type InvalidModelError struct {
	Repository string
	Coordinate core.Coordinate
	Err        error
}

func (e *InvalidModelError) Error() string {
	return fmt.Sprintf("invalid model %s in %s: %v", e.Coordinate, e.Repository, e.Err)
}

func (e *InvalidModelError) Unwrap() []error {
	return []error{ErrModelBroken, e.Err}
}

// MislocatedModelError is returned when a model declares a coordinate other
// than the one it is stored under.
type MislocatedModelError struct {
	Repository string
	Requested  core.Coordinate
	Declared   core.Coordinate
}

func (e *MislocatedModelError) Error() string {
	return fmt.Sprintf("model at %s in %s declares %s", e.Requested, e.Repository, e.Declared)
}

func (e *MislocatedModelError) Unwrap() error {
	return ErrModelBroken
}
