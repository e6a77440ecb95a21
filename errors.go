package main

import "fmt"

// Error kinds for rejected actor commands. Every rejection is recoverable:
// the acting session gets the reason, nobody else is affected, and the room
// state is unchanged.
const (
	ErrValidation    = "validation"
	ErrPermission    = "permission"
	ErrStateConflict = "state_conflict"
	ErrCapacity      = "capacity"
	ErrRateLimit     = "rate_limit"
)

// ActionError carries a kind for classification and a reason string that is
// safe to show to the acting player.
type ActionError struct {
	Kind   string
	Reason string
}

func (e *ActionError) Error() string {
	return e.Reason
}

func validationError(format string, args ...any) *ActionError {
	return &ActionError{Kind: ErrValidation, Reason: fmt.Sprintf(format, args...)}
}

func permissionError(format string, args ...any) *ActionError {
	return &ActionError{Kind: ErrPermission, Reason: fmt.Sprintf(format, args...)}
}

func stateConflictError(format string, args ...any) *ActionError {
	return &ActionError{Kind: ErrStateConflict, Reason: fmt.Sprintf(format, args...)}
}

func capacityError(format string, args ...any) *ActionError {
	return &ActionError{Kind: ErrCapacity, Reason: fmt.Sprintf(format, args...)}
}

func rateLimitError() *ActionError {
	return &ActionError{Kind: ErrRateLimit, Reason: "Too many actions, slow down"}
}

// errorKind classifies an error for logging and for the error frame sent to
// the client. Unknown errors are reported as state conflicts rather than
// leaking internals.
func errorKind(err error) string {
	if ae, ok := err.(*ActionError); ok {
		return ae.Kind
	}
	return ErrStateConflict
}
