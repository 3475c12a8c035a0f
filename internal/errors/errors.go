package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess           Code = 0
	CodeInternal          Code = 1
	CodeUsage             Code = 2
	CodeAuth              Code = 10
	CodeRateLimited       Code = 11
	CodeUnavailable       Code = 12
	CodeUnsupported       Code = 13
	CodeUnsupportedKey    Code = 14
	CodeMissingCredential Code = 15
	CodeMalformedResponse Code = 16
	CodeLiquidity         Code = 17
	CodeNotFound          Code = 18
	CodeBlocked           Code = 19
	CodeSigner            Code = 20
	CodeTimeout           Code = 21
)

var codeNames = map[Code]string{
	CodeInternal:          "internal_error",
	CodeUsage:             "invalid_argument",
	CodeAuth:              "auth_error",
	CodeRateLimited:       "rate_limited",
	CodeUnavailable:       "unavailable",
	CodeUnsupported:       "unsupported_operation",
	CodeUnsupportedKey:    "unsupported_key_type",
	CodeMissingCredential: "missing_credential",
	CodeMalformedResponse: "malformed_response",
	CodeLiquidity:         "liquidity_unavailable",
	CodeNotFound:          "not_found",
	CodeBlocked:           "command_blocked",
	CodeSigner:            "signer_error",
	CodeTimeout:           "timeout",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	if c == CodeSuccess {
		return "ok"
	}
	return fmt.Sprintf("code_%d", int(c))
}

// Error is a typed error that carries a stable error code.
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

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
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

// Is reports whether the outermost typed error in err's chain carries code.
func Is(err error, code Code) bool {
	if typed, ok := As(err); ok {
		return typed.Code == code
	}
	return false
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if typed, ok := As(err); ok {
		return int(typed.Code)
	}
	return int(CodeInternal)
}
