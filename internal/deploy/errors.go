package deploy

import (
	"errors"
	"fmt"
)

var (
	// ErrBranchTaken is returned when the sanitized branch name already
	// exists on the provider or in the deployment table.
	ErrBranchTaken = errors.New("branch name already taken")
	// ErrNotFound is returned when the referenced deployment does not exist.
	ErrNotFound = errors.New("deployment not found")
	// ErrInvalidTransition is returned when a status change is not allowed
	// by the deployment state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError reports a rejected input. No side effects have occurred
// when it is returned.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

func validationErr(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ProviderError wraps a failure from the deployment provider, distinguishing
// configuration problems from transient ones via the underlying error.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s failed: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
