package exchange

import (
	"fmt"
	"net/http"
)

// AuthError means the service rejected the credentials. Retrying with the
// same credentials won't help.
type AuthError struct {
	StatusCode int
	Reason     string
}

func (e *AuthError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("key service rejected the request (%d %s): %s",
			e.StatusCode, http.StatusText(e.StatusCode), e.Reason)
	}
	return fmt.Sprintf("key service rejected the request (%d %s)",
		e.StatusCode, http.StatusText(e.StatusCode))
}

// TransientError is a server-side or network failure. StatusCode is zero
// when no response was received.
type TransientError struct {
	StatusCode int
	Attempts   int
	Err        error
}

func (e *TransientError) Error() string {
	what := "no response"
	if e.StatusCode != 0 {
		what = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	if e.Err != nil {
		return fmt.Sprintf("key service unavailable after %d attempt(s) (%s): %v", e.Attempts, what, e.Err)
	}
	return fmt.Sprintf("key service unavailable after %d attempt(s) (%s)", e.Attempts, what)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// ProtocolError is a successful status with a body that doesn't hold a
// usable key pair.
type ProtocolError struct {
	StatusCode int
	Err        error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("unexpected response from key service (%d): %v", e.StatusCode, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
