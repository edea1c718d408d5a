// Package errors provides the orchestrator's error taxonomy.
// Every failure that leaves a package is an *AppError carrying one Code.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
)

// Code classifies an error for propagation decisions.
type Code int

const (
	Unknown Code = iota
	AuthRequired
	Submission
	Permission
	Transport
	ConnectionExhausted
	NotFound
	InvalidArgument
	Internal
)

var codeNames = map[Code]string{
	Unknown:             "UNKNOWN",
	AuthRequired:        "AUTH_REQUIRED",
	Submission:          "SUBMISSION",
	Permission:          "PERMISSION",
	Transport:           "TRANSPORT",
	ConnectionExhausted: "CONNECTION_EXHAUSTED",
	NotFound:            "NOT_FOUND",
	InvalidArgument:     "INVALID_ARGUMENT",
	Internal:            "INTERNAL",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return codeNames[Unknown]
}

// AppError is the base error type with structured error code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// FromHTTPStatus maps a non-2xx backend response to an AppError.
func FromHTTPStatus(status int, body string) *AppError {
	msg := strings.TrimSpace(body)
	if msg == "" {
		msg = http.StatusText(status)
	}
	var code Code
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = AuthRequired
	case status == http.StatusNotFound:
		code = NotFound
	case status == http.StatusBadRequest, status == http.StatusRequestEntityTooLarge,
		status == http.StatusUnsupportedMediaType, status == http.StatusUnprocessableEntity:
		code = InvalidArgument
	case status >= 500:
		code = Transport
	default:
		code = Unknown
	}
	return New(code, msg).WithMetadata("status", fmt.Sprint(status))
}

// CodeOf returns the code of the first AppError in err's chain.
func CodeOf(err error) Code {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return Unknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryable reports whether the failure is transient and should be
// absorbed by the caller's natural retry (poll tick, reconnect).
func IsRetryable(err error) bool {
	return IsCode(err, Transport)
}
