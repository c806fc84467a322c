package checklist

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyChecklist    = errors.New("checklist has no items")
	ErrChecklistNotFound = errors.New("checklist not found")
	ErrAlreadyScanned    = errors.New("unit already scanned")
	ErrNotInChecklist    = errors.New("unit is not in the checklist")
	ErrPermissionDenied  = errors.New("operation not permitted for role")
	ErrReasonRequired    = errors.New("modification reason is required")

	// ErrInvalidTransition is the sentinel matched by errors.Is for any
	// illegal status change; the concrete error is a TransitionError.
	ErrInvalidTransition = errors.New("invalid checklist transition")
)

// TransitionError reports an operation attempted in a status that does
// not allow it. State is left unchanged.
type TransitionError struct {
	Status Status
	Event  string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s while checklist is %s", e.Event, e.Status)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
