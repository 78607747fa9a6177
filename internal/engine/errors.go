package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures so callers can map them to responses.
type ErrorKind string

const (
	KindSchema     ErrorKind = "schema"
	KindNotFound   ErrorKind = "not_found"
	KindValidation ErrorKind = "validation"
	KindQuery      ErrorKind = "query"
)

type Error struct {
	Kind    ErrorKind
	Message string
	Field   string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	base := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Field != "" {
		base = fmt.Sprintf("%s (field=%s)", base, e.Field)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", base, e.Cause)
	}
	return base
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func schemaError(format string, args ...any) *Error {
	return &Error{Kind: KindSchema, Message: fmt.Sprintf(format, args...)}
}

func validationError(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// NotFoundError reports a row id with no matching row.
func NotFoundError(id any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("no row with id %v", id), Field: "id"}
}

// IsKind reports whether err carries an engine error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
