package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess       Code = 0
	CodeInternal      Code = 1
	CodeUsage         Code = 2
	CodeAuth          Code = 10
	CodeRateLimited   Code = 11
	CodeUnavailable   Code = 12
	CodeUnsupported   Code = 13
	CodeStale         Code = 14
	CodePartialStrict Code = 15
	CodeBlocked       Code = 16
	CodeSigner        Code = 20
	CodeSubmission    Code = 21
	CodeTimeout       Code = 22
)

var typeNames = map[Code]string{
	CodeUsage:         "usage_error",
	CodeAuth:          "auth_error",
	CodeRateLimited:   "rate_limited",
	CodeUnavailable:   "provider_unavailable",
	CodeUnsupported:   "unsupported_chain",
	CodeStale:         "stale_data",
	CodePartialStrict: "partial_results",
	CodeBlocked:       "command_blocked",
	CodeSigner:        "signer_error",
	CodeSubmission:    "submission_failure",
	CodeTimeout:       "timeout",
}

// TypeName is the error.type reported in envelopes and HTTP error bodies.
func (c Code) TypeName() string {
	if name, ok := typeNames[c]; ok {
		return name
	}
	return "internal_error"
}

// Error is a typed CLI error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code Code) bool {
	cliErr, ok := As(err)
	return ok && cliErr.Code == code
}

// Unsupported reports an unknown chain or feature; callers must not default silently.
func Unsupported(format string, args ...any) *Error {
	return New(CodeUnsupported, fmt.Sprintf(format, args...))
}

// TypeName maps any error to its envelope error.type; untyped errors are internal.
func TypeName(err error) string {
	if cliErr, ok := As(err); ok {
		return cliErr.Code.TypeName()
	}
	return CodeInternal.TypeName()
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if cliErr, ok := As(err); ok {
		return int(cliErr.Code)
	}
	return int(CodeInternal)
}
