package models

import (
	"errors"
	"fmt"
)

// ErrVersionConflict is returned by the store when a conditional write loses
// the race. Services convert it into ConcurrentModificationError.
var ErrVersionConflict = errors.New("version conflict")

// ErrNoChange is returned by an update callback that decided not to modify
// the agreement. The store then skips the write.
var ErrNoChange = errors.New("no change")

// InvalidTransitionError is returned when an action is not allowed from the
// agreement's current status.
type InvalidTransitionError struct {
	Action string
	Status string
	Code   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s agreement in status %s: %s", e.Action, e.Status, e.Code)
}

// ConcurrentModificationError means the caller's view of the agreement is stale.
type ConcurrentModificationError struct {
	Expected int
	Actual   int
	Status   string
}

func (e *ConcurrentModificationError) Error() string {
	if e.Expected == 0 && e.Actual == 0 {
		return "agreement was modified concurrently"
	}
	return fmt.Sprintf("agreement was modified concurrently: expected version %d, current %d", e.Expected, e.Actual)
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

// DependencyError wraps a failure of an external collaborator.
type DependencyError struct {
	Dependency string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Entity + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// PermissionError means the actor is not the party an action requires.
type PermissionError struct {
	Action string
	Reason string
}

func (e *PermissionError) Error() string {
	if e.Reason == "" {
		return "not allowed to " + e.Action
	}
	return fmt.Sprintf("not allowed to %s: %s", e.Action, e.Reason)
}

func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func NewDependencyError(dep string, err error) error {
	return &DependencyError{Dependency: dep, Err: err}
}
