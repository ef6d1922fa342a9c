package setup

import "fmt"

// ConflictError means another subsystem owns (or intends to own) the target
// storage; nothing was mutated.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string {
	return e.Msg
}

func conflictErrorf(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Msg: fmt.Sprintf(format, args...)}
}

// ValidationError means a disk or partition is in a state that would make
// formatting destructive; nothing was mutated.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func validationErrorf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// OperationError means an external format/mount/assemble command failed.
type OperationError struct {
	Device string
	Err    error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("operation failed on %s: %v", e.Device, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
