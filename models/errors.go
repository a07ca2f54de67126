package models

import "errors"

// Error taxonomy shared by services and handlers. Wrap with fmt.Errorf("...: %w", Err...)
// and test with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateEntry    = errors.New("duplicate entry")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrExternalService   = errors.New("external service error")
	ErrInconsistentState = errors.New("inconsistent state")
	ErrInvalidTransition = errors.New("invalid status transition")
)
