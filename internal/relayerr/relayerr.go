// Package relayerr provides a small structured error type with codes
// suited to the wire error{message, sessionId?} frame described in
// spec.md §7; no other package of the module imports it. Grounded on
// grovetools-core/errors/types.go's Code+Cause+Details shape.
package relayerr

import "fmt"

// Code is a closed set of error conditions the hub, agent and launcher
// can raise.
type Code string

const (
	CodeAuth            Code = "AUTH_FAILED"
	CodeSessionNotFound Code = "SESSION_NOT_FOUND"
	CodeDialTimeout     Code = "DIAL_TIMEOUT"
	CodeBufferOverflow  Code = "BUFFER_OVERFLOW"
	CodeRateLimited     Code = "RATE_LIMITED"
	CodeUploadRejected  Code = "UPLOAD_REJECTED"
	CodeSanitizeFailed  Code = "SANITIZE_FAILED"
	CodeProcessExited   Code = "PROCESS_EXITED"
	CodeListenerFatal   Code = "LISTENER_FATAL"
	CodeAgentTokenBad   Code = "AGENT_TOKEN_MISMATCH"
	CodeWebhookBadSig   Code = "WEBHOOK_BAD_SIGNATURE"
	CodeInternal        Code = "INTERNAL"
)

// Error is a structured error carrying a Code and optional cause,
// suitable for both logging and translation into a wire error frame.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error with no cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches code and message to an underlying cause.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Cause: err}
}

// Is reports whether err is a *Error carrying the given code.
func Is(err error, code Code) bool {
	re, ok := err.(*Error)
	if !ok {
		return false
	}
	return re.Code == code
}
