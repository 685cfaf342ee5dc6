package domain

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeValidation  ErrorCode = "validation"
	CodeConflict    ErrorCode = "conflict"
	CodeState       ErrorCode = "state"
	CodeNotFound    ErrorCode = "not_found"
	CodePersistence ErrorCode = "persistence"
)

// Error carries a machine-readable code next to the human-readable message
// so transports can map failures deterministically.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func Validationf(format string, args ...any) error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

func Conflictf(format string, args ...any) error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

func Statef(format string, args ...any) error {
	return &Error{Code: CodeState, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Persistencef wraps a storage failure. The cause is retained for logging but
// callers surface only the generic message.
func Persistencef(err error, format string, args ...any) error {
	return &Error{Code: CodePersistence, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the taxonomy code from err, defaulting to persistence for
// anything untyped reaching a transport boundary.
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodePersistence
}

func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}
