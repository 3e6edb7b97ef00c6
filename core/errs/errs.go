// Package errs defines the error taxonomy shared by the orchestrator packages.
// Every type exposes Code() so handler summaries can log a stable err_code.
package errs

import (
	"errors"
	"fmt"
)

// ValidationError reports that a wizard step rejected user input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Code returns the log code for the error.
func (e *ValidationError) Code() string { return "validation" }

// UnauthorizedError reports an action attempted by an unlinked chat or a role that may not use it.
type UnauthorizedError struct {
	Action string
}

func (e *UnauthorizedError) Error() string {
	if e.Action == "" {
		return "unauthorized"
	}
	return "unauthorized: " + e.Action
}

// Code returns the log code for the error.
func (e *UnauthorizedError) Code() string { return "unauthorized" }

// NotFoundError reports a referenced entity or candidate that does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Kind + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// Code returns the log code for the error.
func (e *NotFoundError) Code() string { return "not_found" }

// TransportError wraps a failure of the outbound messaging channel.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying transport failure.
func (e *TransportError) Unwrap() error { return e.Err }

// Code returns the log code for the error.
func (e *TransportError) Code() string { return "transport" }

// RepositoryError wraps a failure of the entity repository.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository %s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying repository failure.
func (e *RepositoryError) Unwrap() error { return e.Err }

// Code returns the log code for the error.
func (e *RepositoryError) Code() string { return "repository" }

// Transport wraps err as a TransportError unless it is nil or already one.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

// Repository wraps err as a RepositoryError unless it is nil or already typed by the taxonomy.
func Repository(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) || IsRepository(err) {
		return err
	}
	return &RepositoryError{Op: op, Err: err}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsUnauthorized reports whether err is an UnauthorizedError.
func IsUnauthorized(err error) bool {
	var target *UnauthorizedError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// IsRepository reports whether err is a RepositoryError.
func IsRepository(err error) bool {
	var target *RepositoryError
	return errors.As(err, &target)
}
