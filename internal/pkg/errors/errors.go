// Package errors defines the structured error type returned across the
// service boundary. Import it as apperrors.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels returned by stores. Callers translate them into AppErrors.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrConflict      = errors.New("conflict")
	ErrLimitReached  = errors.New("limit reached")
	ErrUnavailable   = errors.New("service unavailable")
)

// AppError carries a machine readable code, a message safe to show to API
// clients and the HTTP status the API layer responds with.
type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"-"`
	Params     map[string]any `json:"params,omitempty"`
	Err        error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports a match when target is an AppError with the same code, so
// errors.Is(err, &AppError{Code: CodeInvalidTransition}) works without the
// exact instance.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok || t == nil {
		return false
	}
	return t.Code == e.Code
}

func New(code, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus}
}

// Wrap attaches err as the cause of a new AppError.
func Wrap(err error, code, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

// WithParams merges params into the error. Nil-safe.
func (e *AppError) WithParams(params map[string]any) *AppError {
	if e == nil || len(params) == 0 {
		return e
	}
	if e.Params == nil {
		e.Params = make(map[string]any, len(params))
	}
	for k, v := range params {
		e.Params[k] = v
	}
	return e
}

func NotFound(code, message string) *AppError {
	return New(code, message, http.StatusNotFound)
}

func BadRequest(code, message string) *AppError {
	return New(code, message, http.StatusBadRequest)
}

func Unauthorized(code, message string) *AppError {
	return New(code, message, http.StatusUnauthorized)
}

func Forbidden(code, message string) *AppError {
	return New(code, message, http.StatusForbidden)
}

func Conflict(code, message string) *AppError {
	return New(code, message, http.StatusConflict)
}

func Internal(code, message string) *AppError {
	return New(code, message, http.StatusInternalServerError)
}

// IsAppError unwraps err to the first AppError in its chain.
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code string) bool {
	appErr, ok := IsAppError(err)
	return ok && appErr.Code == code
}
