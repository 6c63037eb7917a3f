package reviewable

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("reviewable not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrVersionConflict   = errors.New("this item changed, please refresh")
	ErrClaimConflict     = errors.New("reviewable already claimed")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrValidation        = errors.New("validation failed")
)

// VersionConflictError is returned when the caller's expected version does
// not match the stored one. Callers must reload and retry explicitly.
type VersionConflictError struct {
	ID       int64
	Expected int64
	Actual   int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("reviewable %d: expected version %d, found %d: %s", e.ID, e.Expected, e.Actual, ErrVersionConflict)
}

func (e *VersionConflictError) Unwrap() error { return ErrVersionConflict }

// ClaimConflictError names the moderator currently holding the claim.
type ClaimConflictError struct {
	ID     int64
	Holder string
}

func (e *ClaimConflictError) Error() string {
	return fmt.Sprintf("reviewable %d claimed by %s", e.ID, e.Holder)
}

func (e *ClaimConflictError) Unwrap() error { return ErrClaimConflict }

type TransitionError struct {
	From   Status
	Action string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: action %q not allowed from status %q", ErrInvalidTransition, e.Action, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// conflictKind labels an error for the conflicts metric, or "" if the
// error is not one of the expected conflict conditions.
func conflictKind(err error) string {
	switch {
	case errors.Is(err, ErrVersionConflict):
		return "version"
	case errors.Is(err, ErrClaimConflict):
		return "claim"
	case errors.Is(err, ErrInvalidTransition):
		return "transition"
	case errors.Is(err, ErrPermissionDenied):
		return "permission"
	}
	return ""
}
