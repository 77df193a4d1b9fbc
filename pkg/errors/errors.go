// Package errors defines the error taxonomy shared by the index engine, the
// CLI and the HTTP query API. Every failure is classified by one of the
// sentinels below; callers test the class with errors.Is and map it to an
// HTTP status or a process exit code.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrIO           = errors.New("io error")
	ErrSchema       = errors.New("schema error")
	ErrQuerySyntax  = errors.New("query syntax error")
	ErrLockConflict = errors.New("lock conflict")
	ErrNotFound     = errors.New("not found")
	ErrClosed       = errors.New("index handle closed")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
)

// Exit codes returned by the rowsearch binary.
const (
	ExitOK           = 0
	ExitFailure      = 1
	ExitIO           = 2
	ExitSchema       = 3
	ExitQuerySyntax  = 4
	ExitLockConflict = 5
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
	cause      error
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() []error {
	if e.cause != nil {
		return []error{e.Err, e.cause}
	}
	return []error{e.Err}
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// IO wraps an underlying storage failure on path as an ErrIO AppError while
// keeping the cause reachable through errors.Is / errors.As.
func IO(op string, path string, cause error) error {
	return &AppError{
		Err:        ErrIO,
		Message:    fmt.Sprintf("%s %s: %v", op, path, cause),
		StatusCode: http.StatusInternalServerError,
		cause:      cause,
	}
}

// Schema reports a field that the index schema does not declare or allow.
func Schema(format string, args ...any) error {
	return Newf(ErrSchema, http.StatusBadRequest, format, args...)
}

// QuerySyntax reports an unparseable query.
func QuerySyntax(format string, args ...any) error {
	return Newf(ErrQuerySyntax, http.StatusBadRequest, format, args...)
}

// NotFound reports a lookup for an id that is not part of the index.
func NotFound(format string, args ...any) error {
	return Newf(ErrNotFound, http.StatusNotFound, format, args...)
}

// LockConflict reports that another writer holds the index lock.
func LockConflict(path string) error {
	return Newf(ErrLockConflict, http.StatusConflict, "index %s is locked by another writer", path)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrLockConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrQuerySyntax), errors.Is(err, ErrSchema):
		return http.StatusBadRequest
	case errors.Is(err, ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ExitCode maps an error to the process exit status of the CLI.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrIO), errors.Is(err, ErrClosed):
		return ExitIO
	case errors.Is(err, ErrSchema):
		return ExitSchema
	case errors.Is(err, ErrQuerySyntax):
		return ExitQuerySyntax
	case errors.Is(err, ErrLockConflict):
		return ExitLockConflict
	default:
		return ExitFailure
	}
}
