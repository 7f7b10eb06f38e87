// Package merr provides the unified error shape used across the micasa
// core: config/transport/protocol failures on one side, typed not-found
// and database results on the other.
package merr

import (
	"errors"
	"fmt"
)

// Code identifies one of the error kinds described in the design's error
// handling section.
type Code string

const (
	CodeConfig     Code = "CONFIG"
	CodeTransport  Code = "TRANSPORT"
	CodeProtocol   Code = "PROTOCOL"
	CodeNotFound   Code = "NOT_FOUND"
	CodeNoResults  Code = "NO_RESULTS"
	CodeInvalid    Code = "INVALID_RESULT"
	CodeScript     Code = "SCRIPT"
	CodeResource   Code = "RESOURCE"
	CodeFatal      Code = "FATAL"
)

// Error is a structured error carrying a classification code, an HTTP
// status for the API boundary, and an optional wrapped cause.
type Error struct {
	Code       Code
	Message    string
	HTTPStatus int
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error with no wrapped cause.
func New(code Code, httpStatus int, message string) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: httpStatus}
}

// Wrap creates an Error that carries an underlying cause.
func Wrap(code Code, httpStatus int, message string, err error) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

// NotFound builds a NotFound error for a missing device/plugin/script
// reference. Callers treat NotFound as "return null/empty", never a panic.
func NotFound(what, ref string) *Error {
	return New(CodeNotFound, 404, fmt.Sprintf("%s %q not found", what, ref))
}

// NoResults builds a typed error for a query that legitimately found
// nothing, distinct from a query shape mismatch (InvalidResult).
func NoResults(query string) *Error {
	return New(CodeNoResults, 404, fmt.Sprintf("no results: %s", query))
}

// InvalidResult builds a typed error for a query whose result shape did
// not match what the caller expected.
func InvalidResult(query string, err error) *Error {
	return Wrap(CodeInvalid, 500, fmt.Sprintf("invalid result: %s", query), err)
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
