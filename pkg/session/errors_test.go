package session

import (
	"errors"
	"fmt"
	"testing"

	"github.com/sabia-ai/sabia/pkg/audio"
	"github.com/sabia-ai/sabia/pkg/live"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"permission", audio.ErrPermissionDenied, ErrorPermission},
		{"wrapped permission", fmt.Errorf("start: %w", audio.ErrPermissionDenied), ErrorPermission},
		{"no device", audio.ErrNoDevice, ErrorDevice},
		{"missing key", live.ErrMissingAPIKey, ErrorConfig},
		{"missing model", live.ErrMissingModel, ErrorConfig},
		{"quota", errors.New("live: server error 429 (RESOURCE_EXHAUSTED): quota exceeded"), ErrorQuota},
		{"bad key", errors.New("live: setup rejected: server error 401: API key not valid"), ErrorConfig},
		{"dial failure", errors.New("live: dial failed: connection refused"), ErrorNetwork},
		{"dropped", errors.New("live: connection lost: unexpected EOF"), ErrorNetwork},
		{"mystery", errors.New("something odd"), ErrorUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if tt.err == nil {
				if got != nil {
					t.Errorf("expected nil for nil error, got %v", got)
				}
				return
			}
			if got.Kind != tt.want {
				t.Errorf("expected kind %s, got %s", tt.want, got.Kind)
			}
			if got.Message == "" {
				t.Error("expected a user-facing message")
			}
			if !errors.Is(got, tt.err) {
				t.Error("expected classified error to unwrap to the original")
			}
		})
	}
}

func TestClassifyPassesThrough(t *testing.T) {
	orig := &Error{Kind: ErrorQuota, Message: "over limit"}
	if got := Classify(fmt.Errorf("wrap: %w", orig)); got != orig {
		t.Errorf("expected already-classified error returned as-is, got %v", got)
	}
}

func TestRetryable(t *testing.T) {
	if !(&Error{Kind: ErrorNetwork}).Retryable() {
		t.Error("expected network errors retryable")
	}
	if (&Error{Kind: ErrorPermission}).Retryable() {
		t.Error("expected permission errors not retryable")
	}
}
