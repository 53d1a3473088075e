// Package reserr defines the structured error type used throughout
// resclient. Rejected calls, connection failures, invalid arguments and
// unknown resources are reported as an *Error so callers can switch on
// Code without string-matching Go error text.
package reserr

import (
	"encoding/json"
	"fmt"
)

// Well-known error codes. Server-originated codes are passed through
// verbatim and are not enumerated here.
const (
	CodeDisconnect      = "system.disconnect"
	CodeConnectionError = "system.connectionError"
	CodeInvalidParams   = "system.invalidParams"
	CodeNotFound        = "system.notFound"
	CodeInternalError   = "system.internalError"
)

// Error is a RES protocol error. It satisfies the standard error
// interface and additionally carries the machine-readable Code and
// optional structured Data the server attached to the error response.
type Error struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether target is a *Error with the same Code, enabling
// errors.Is(err, &reserr.Error{Code: reserr.CodeNotFound}) style checks.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t == nil || e == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates an *Error with the given code and message and no data.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Disconnect returns the canonical "caller requested disconnect" error.
func Disconnect() *Error {
	return New(CodeDisconnect, "disconnect called")
}

// ConnectionError wraps a transport-level failure as a system.connectionError.
func ConnectionError(cause error) *Error {
	msg := "connection error"
	if cause != nil {
		msg = cause.Error()
	}
	return New(CodeConnectionError, msg)
}

// InvalidParams returns a system.invalidParams error with the given reason.
func InvalidParams(reason string) *Error {
	return New(CodeInvalidParams, reason)
}

// NotFound returns a system.notFound error for the given rid.
func NotFound(rid string) *Error {
	return New(CodeNotFound, fmt.Sprintf("resource not found: %s", rid))
}

// Internal wraps an unexpected condition (protocol violation, type
// inconsistency) as a system.internalError.
func Internal(format string, args ...any) *Error {
	return New(CodeInternalError, fmt.Sprintf(format, args...))
}

// FromResult decodes a server error payload ({"code":...,"message":...,
// "data":...}) into an *Error.
func FromResult(data json.RawMessage) (*Error, error) {
	var e Error
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode error payload: %w", err)
	}
	return &e, nil
}
