package core

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitialized     = errors.New("job system not initialized")
	ErrAlreadyInitialized = errors.New("job system already initialized")
	ErrSystemExiting      = errors.New("job system is exiting")
	ErrTriggerListFull    = errors.New("job trigger list is full")
	ErrDependentListFull  = errors.New("trigger dependent list is full")

	// ErrContractViolation is matched by every *ContractViolation.
	ErrContractViolation = errors.New("contract violation")
)

// ContractViolation is the panic value for programmer errors: touching a job
// after submission, notifying a trigger below zero, joining a channel that
// deletes itself, and similar misuse. These are never recoverable conditions.
type ContractViolation struct {
	Op     string
	Object string
	Reason string
}

func (e *ContractViolation) Error() string {
	if e.Object == "" {
		return fmt.Sprintf("jobsystem: %s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("jobsystem: %s %q: %s", e.Op, e.Object, e.Reason)
}

func (e *ContractViolation) Is(target error) bool {
	return target == ErrContractViolation
}

func violation(op, object, reason string) {
	panic(&ContractViolation{Op: op, Object: object, Reason: reason})
}
