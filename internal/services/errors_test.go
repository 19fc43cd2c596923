package services_test

import (
	"errors"
	"testing"

	"blueline/internal/services"
)

func TestWrapPreservesMarker(t *testing.T) {
	cause := errors.New("connection reset")
	err := services.Wrap(services.ErrTransient, "ocr", "extract page", "extraction call failed", cause)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
}

func TestWrapNilMarkerDefaultsTransient(t *testing.T) {
	err := services.Wrap(nil, "diff", "load pages", "store unavailable", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient default, got %v", err)
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient", services.Wrap(services.ErrTransient, "s", "op", "m", nil), true},
		{"timeout", services.Wrap(services.ErrTimeout, "s", "op", "m", nil), true},
		{"validation", services.Wrap(services.ErrValidation, "s", "op", "m", nil), false},
		{"not found", services.Wrap(services.ErrNotFound, "s", "op", "m", nil), false},
		{"untagged", errors.New("boom"), true},
	}
	for _, tc := range cases {
		if got := services.Retryable(tc.err); got != tc.want {
			t.Fatalf("%s: Retryable = %v, want %v", tc.name, got, tc.want)
		}
	}
}
