package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for categorizing errors
const (
	ErrConfig     = "CONFIG"
	ErrCredential = "CREDENTIAL"
	ErrAuth       = "AUTH"
	ErrTransient  = "TRANSIENT"
	ErrProtocol   = "PROTOCOL"
	ErrInstall    = "INSTALL"
	ErrAgent      = "AGENT"
	ErrKeysExist  = "KEYS_EXIST"
)

// Process exit codes, one per error family. These are part of the CLI
// contract and must stay stable.
const (
	ExitOK         = 0
	ExitGeneric    = 1
	ExitCredential = 2
	ExitAuth       = 3
	ExitTransient  = 4
	ExitInstall    = 5
	ExitAgent      = 6
	ExitKeysExist  = 7
)

var exitCodes = map[string]int{
	ErrConfig:     ExitGeneric,
	ErrCredential: ExitCredential,
	ErrAuth:       ExitAuth,
	ErrTransient:  ExitTransient,
	ErrProtocol:   ExitTransient,
	ErrInstall:    ExitInstall,
	ErrAgent:      ExitAgent,
	ErrKeysExist:  ExitKeysExist,
}

// Error represents a structured error with code, message, suggestion, and optional cause.
// It renders as:
//
//	✗ <What failed>
//
//	  <Why it failed - technical details>
//
//	  <How to fix it - actionable steps>
type Error struct {
	Code       string
	Message    string
	Suggestion string
	Cause      error
}

// New creates a new structured error with the given code, message, and suggestion.
func New(code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
	}
}

// Wrap wraps an existing error with a message, defaulting to ErrConfig code.
func Wrap(err error, message string) *Error {
	return &Error{
		Code:    ErrConfig,
		Message: message,
		Cause:   err,
	}
}

// WrapWithCode wraps an existing error with a specific code, message, and suggestion.
func WrapWithCode(err error, code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
		Cause:      err,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("✗ %s\n", e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Cause.Error()))
	}

	if e.Suggestion != "" {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Suggestion))
	}

	return b.String()
}

// Unwrap returns the underlying cause for use with errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsCode checks if an error is a structured Error with the given code.
// Only the outermost structured error in the chain is considered.
func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}

// CodeOf returns the code of the outermost structured Error in the chain,
// or an empty string if there is none.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var kgErr *Error
	if errors.As(err, &kgErr) {
		return kgErr.Code
	}
	return ""
}

// ExitCode maps an error to the process exit code for its family.
// nil maps to ExitOK; unstructured errors map to ExitGeneric.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if code, ok := exitCodes[CodeOf(err)]; ok {
		return code
	}
	return ExitGeneric
}

// Describe returns the one-line message and suggestion of err, for output
// that has no room for the full rendering.
func Describe(err error) (message, suggestion string) {
	if err == nil {
		return "", ""
	}
	var kgErr *Error
	if errors.As(err, &kgErr) {
		return kgErr.Message, kgErr.Suggestion
	}
	return err.Error(), ""
}
