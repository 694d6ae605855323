package base

import (
	"errors"
	"fmt"
	"strings"
)

// AuthError indicates an authentication failure. Authentication failures are
// terminal for the connect call that produced them and are never retried.
type AuthError struct {
	Protocol string
	Err      error
}

func (e AuthError) Error() string {
	return fmt.Sprintf("%s authentication failed: %v", e.Protocol, e.Err)
}

func (e AuthError) Unwrap() error { return e.Err }

// NotFoundError reports a missing message or folder. It is reported to the
// caller, never retried.
type NotFoundError struct {
	Kind   string // "message" or "folder"
	Target string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Target)
}

// ValidationError reports a missing or malformed parameter, detected before
// any protocol call is made.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string { return e.Reason }

// transientMarkers are substrings seen in errors raised by dropped or reset
// connections across the providers this engine targets.
var transientMarkers = []string{
	"connection",
	"broken pipe",
	"reset",
	"closed",
	"eof",
	"timeout",
	"socket",
	"abort",
	"i/o",
}

// IsTransient reports whether err looks like a recoverable network failure.
// Auth, not-found and validation errors are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var authErr AuthError
	var notFound NotFoundError
	var invalid ValidationError
	if errors.As(err, &authErr) || errors.As(err, &notFound) || errors.As(err, &invalid) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
