package dicomweb

import "errors"

var (
	// ErrNotFound is returned when a resource is not found
	ErrNotFound = errors.New("not found")
	// ErrInternal is returned when an internal error occurs
	ErrInternal = errors.New("internal error")
	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidStateTransition is returned for a state/target pair the
	// workitem state machine does not permit.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrWorkitemFinal is returned when mutating a workitem that reached
	// a terminal state.
	ErrWorkitemFinal = errors.New("workitem is in a final state")
	// ErrTransactionUIDRequired is returned when a mutating call on an
	// in-progress workitem carries no transaction UID.
	ErrTransactionUIDRequired = errors.New("transaction uid required")
	// ErrTransactionUIDMismatch is returned when the supplied transaction
	// UID does not match the one held by the workitem.
	ErrTransactionUIDMismatch = errors.New("transaction uid mismatch")
)
