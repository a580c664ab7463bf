// Package errors provides a small typed-error wrapper shared across the
// supervisor so transport handlers can map failures to status codes without
// string-matching error messages.
package errors

import (
	"errors"
	"fmt"
)

// Code classifies an AppError for callers that need to branch on failure kind.
type Code string

const (
	CodeInvalidInput Code = "INVALID_INPUT"
	CodeNotFound     Code = "NOT_FOUND"
	CodeAlreadyExists Code = "ALREADY_EXISTS"
	CodeConflict     Code = "CONFLICT"
	CodeUnavailable  Code = "UNAVAILABLE"
	CodeTimeout      Code = "TIMEOUT"
	CodeInternal     Code = "INTERNAL_ERROR"
)

// AppError is a structured error carrying a stable Code plus an optional
// wrapped cause.
type AppError struct {
	Code    Code
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Err: cause}
}

func NewInvalidInput(message string) *AppError { return New(CodeInvalidInput, message) }
func NewNotFound(message string) *AppError     { return New(CodeNotFound, message) }
func NewConflict(message string) *AppError     { return New(CodeConflict, message) }
func NewInternal(message string) *AppError     { return New(CodeInternal, message) }

func NewInternalWithCause(message string, cause error) *AppError {
	return Wrap(CodeInternal, message, cause)
}

func codeOf(err error) (Code, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code, true
	}
	return "", false
}

func IsNotFound(err error) bool {
	code, ok := codeOf(err)
	return ok && code == CodeNotFound
}

func IsInvalidInput(err error) bool {
	code, ok := codeOf(err)
	return ok && code == CodeInvalidInput
}

func IsConflict(err error) bool {
	code, ok := codeOf(err)
	return ok && code == CodeConflict
}
