package carphoto

import (
	"context"
	"errors"
	"fmt"

	"carphoto/internal/diskpath"
	"carphoto/internal/retry"
	"carphoto/internal/store"
)

// Code is the machine-readable class of a failed operation.
type Code string

const (
	CodeInvalidInput  Code = "invalid_input"
	CodeNotFound      Code = "not_found"
	CodeConflict      Code = "conflict"
	CodeLimitExceeded Code = "limit_exceeded"
	CodeUnavailable   Code = "unavailable"
	CodeInternal      Code = "internal"
)

// Error is returned by every Service operation.
type Error struct {
	Code Code
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the code of the first *Error in err's chain. Errors that
// carry no code are internal; a nil error has no code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

func newError(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// classify wraps a failure from the store or the path layer with the code a
// caller can act on.
func classify(op, msg string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}

	code := CodeInternal
	var pe *diskpath.PathError
	var exhausted *retry.ExhaustedError
	switch {
	case errors.As(err, &pe):
		code = CodeInvalidInput
	case errors.Is(err, store.ErrNotFound):
		code = CodeNotFound
	case errors.Is(err, store.ErrAlreadyExists):
		code = CodeConflict
	case errors.As(err, &exhausted), store.IsTransient(err):
		code = CodeUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = CodeUnavailable
	}
	return &Error{Code: code, Op: op, Msg: msg, Err: err}
}
