package portal

import (
	"errors"
	"fmt"
)

// ErrClientClosed is wrapped by requests made after Close.
var ErrClientClosed = errors.New("portal client closed")

// Login handshake steps reported in errors.
const (
	StepLoginPage = "login_page"
	StepCSRF      = "csrf_token"
	StepLogin     = "login"
)

// TransportError means a step of the login handshake could not be completed,
// either because the portal answered with a non-2xx status or because the
// request never got a response.
type TransportError struct {
	Step       string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("portal %s failed with status %d", e.Step, e.StatusCode)
	}
	return fmt.Sprintf("portal %s failed: %v", e.Step, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// AuthError means the portal rejected the credentials.
type AuthError struct {
	Reason     string
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	msg := "portal authentication failed: " + e.Reason
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// RequestError means an authenticated request failed. Retried is set when the
// failure happened on the retry after a re-login.
type RequestError struct {
	Method     string
	Path       string
	StatusCode int
	Retried    bool
	Err        error
}

func (e *RequestError) Error() string {
	msg := fmt.Sprintf("portal request %s %s failed", e.Method, e.Path)
	if e.Retried {
		msg += " after re-login"
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" with status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RequestError) Unwrap() error {
	return e.Err
}
