package core

import (
	"errors"
	"fmt"

	"github.com/git-pkgs/repositories/config"
)

var (
	// ErrNotFound is returned when a repository id is unknown.
	ErrNotFound = errors.New("not found")

	// ErrConflict is wrapped by ConflictError.
	ErrConflict = errors.New("repository id conflict")

	// ErrPersistence is wrapped by PersistenceError.
	ErrPersistence = errors.New("configuration not persisted")

	// ErrUnsupportedFeature is wrapped by UnsupportedFeatureError.
	ErrUnsupportedFeature = errors.New("unsupported feature")

	// ErrUnknownType is returned when no provider handles a repository type.
	ErrUnknownType = errors.New("unknown repository type")

	// ErrClosed is returned when a closed repository is used.
	ErrClosed = errors.New("repository closed")
)

// ValidationError reports an invalid field or schedule.
type ValidationError = config.ValidationError

// ConflictError is returned when an id is already taken by a repository of
// another kind, or by any repository when cloning.
type ConflictError struct {
	ID       string
	Existing Kind
	Wanted   Kind
}

func (e *ConflictError) Error() string {
	if e.Wanted == "" {
		return fmt.Sprintf("repository %s already exists as %s repository", e.ID, e.Existing)
	}
	return fmt.Sprintf("cannot register %s repository %s: id already used by a %s repository", e.Wanted, e.ID, e.Existing)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// PersistenceError is returned when a registry change could not be saved.
// The in-memory state has been rolled back when this is returned.
type PersistenceError struct {
	Op  string
	ID  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// UnsupportedFeatureError is returned when a repository does not declare the
// requested feature kind.
type UnsupportedFeatureError struct {
	ID      string
	Feature FeatureKind
}

func (e *UnsupportedFeatureError) Error() string {
	return fmt.Sprintf("repository %s does not support feature %s", e.ID, e.Feature)
}

func (e *UnsupportedFeatureError) Unwrap() error {
	return ErrUnsupportedFeature
}

// NotFoundError wraps ErrNotFound with the missing id.
type NotFoundError struct {
	Kind Kind
	ID   string
}

func (e *NotFoundError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("repository %s not found", e.ID)
	}
	return fmt.Sprintf("%s repository %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}
