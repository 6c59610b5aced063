package model

import (
	"errors"
	"fmt"
)

// Error classes. Concrete errors wrap one of these so callers can classify
// with errors.Is.
var (
	ErrValidation          = errors.New("validation failed")
	ErrNoSuchEntity        = errors.New("no such entity")
	ErrEntityAlreadyExists = errors.New("entity already exists")
	ErrDeleteConflict      = errors.New("delete conflict")
	ErrServiceUnavailable  = errors.New("service unavailable")
	ErrAccessDenied        = errors.New("access denied")
)

// ValidationError reports a malformed or missing request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// EntityError attaches the entity kind and name to an error class.
type EntityError struct {
	Kind  Kind
	Name  string
	Class error
	Cause error
}

func (e *EntityError) Error() string {
	msg := fmt.Sprintf("%s %q: %s", e.Kind, e.Name, e.Class)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the class and the underlying cause.
func (e *EntityError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Class}
	}
	return []error{e.Class, e.Cause}
}

// NotFound returns an ErrNoSuchEntity error for the named entity.
func NotFound(kind Kind, name string) error {
	return &EntityError{Kind: kind, Name: name, Class: ErrNoSuchEntity}
}

// AlreadyExists returns an ErrEntityAlreadyExists error for the named entity.
func AlreadyExists(kind Kind, name string, cause error) error {
	return &EntityError{Kind: kind, Name: name, Class: ErrEntityAlreadyExists, Cause: cause}
}

// DeleteConflict returns an ErrDeleteConflict error for the named entity.
func DeleteConflict(kind Kind, name string, reason string) error {
	return &EntityError{Kind: kind, Name: name, Class: ErrDeleteConflict, Cause: errors.New(reason)}
}
