package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/sabia-ai/sabia/pkg/audio"
	"github.com/sabia-ai/sabia/pkg/live"
)

// ErrorKind buckets session failures by what the user can do about them.
type ErrorKind string

const (
	// ErrorPermission means the user denied microphone access.
	ErrorPermission ErrorKind = "permission"
	// ErrorDevice means no usable capture device exists.
	ErrorDevice ErrorKind = "device"
	// ErrorConfig means the API key or session settings are invalid.
	ErrorConfig ErrorKind = "config"
	// ErrorNetwork means the connection failed or dropped.
	ErrorNetwork ErrorKind = "network"
	// ErrorQuota means the backend rejected the session for rate or
	// quota reasons.
	ErrorQuota ErrorKind = "quota"
	// ErrorUnknown is everything else.
	ErrorUnknown ErrorKind = "unknown"
)

// Error wraps a failure with its kind and a message fit for the UI.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("session: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether reconnecting could plausibly succeed
// without the user changing anything.
func (e *Error) Retryable() bool {
	return e.Kind == ErrorNetwork || e.Kind == ErrorUnknown
}

// Classify buckets an error and attaches a user-facing message.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}

	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return &Error{Kind: ErrorPermission, Err: err,
			Message: "Microphone access was denied. Allow microphone use and try again."}

	case errors.Is(err, audio.ErrNoDevice):
		return &Error{Kind: ErrorDevice, Err: err,
			Message: "No microphone was found. Connect one and try again."}

	case errors.Is(err, live.ErrMissingAPIKey), errors.Is(err, live.ErrMissingModel):
		return &Error{Kind: ErrorConfig, Err: err,
			Message: "The session is misconfigured. Check the API key and model settings."}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "quota"),
		strings.Contains(msg, "resource_exhausted"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "429"):
		return &Error{Kind: ErrorQuota, Err: err,
			Message: "The service is over its usage limit. Wait a moment and try again."}

	case strings.Contains(msg, "api key"),
		strings.Contains(msg, "unauthenticated"),
		strings.Contains(msg, "permission_denied"),
		strings.Contains(msg, "invalid_argument"):
		return &Error{Kind: ErrorConfig, Err: err,
			Message: "The session was rejected. Check the API key and model settings."}
	}

	if isNetworkError(err) {
		return &Error{Kind: ErrorNetwork, Err: err,
			Message: "The connection was lost. Check your network and reconnect."}
	}

	return &Error{Kind: ErrorUnknown, Err: err,
		Message: "Something went wrong. Try reconnecting."}
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"dial", "connection refused", "connection reset", "connection lost",
		"broken pipe", "no such host", "handshake", "timeout", "eof",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
