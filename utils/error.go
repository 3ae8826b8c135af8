package utils

import "errors"

var (
	ErrorRecordNotFound = errors.New("record not found")
	ErrorUnauthorized   = errors.New("unauthorized")
	ErrorForbidden      = errors.New("forbidden")
	ErrorValidation     = errors.New("validation failed")
)

// ValidationError carries the single human-readable message shown to the submitter.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return ErrorValidation }

func NewValidationError(msg string) error {
	return &ValidationError{Message: msg}
}
