package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := Wrap(CodePersistence, "persist shelter", fmt.Errorf("disk full"))
	wrapped := fmt.Errorf("apply update: %w", err)

	if !stderrors.Is(wrapped, New(CodePersistence, "")) {
		t.Fatal("expected errors.Is to match by code")
	}
	if stderrors.Is(wrapped, New(CodeStaleUpdate, "")) {
		t.Fatal("expected different code not to match")
	}
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := Wrap(CodePersistence, "persist shelter", fmt.Errorf("disk full"))
	if got := err.Error(); got != "persist shelter: disk full" {
		t.Fatalf("Error() = %q", got)
	}
	if got := New(CodeNotFound, "shelter not found").Error(); got != "shelter not found" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestCodeOfAndHasCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeAuthorization, "not allowed"))
	if got := CodeOf(err); got != CodeAuthorization {
		t.Fatalf("CodeOf = %q, want %q", got, CodeAuthorization)
	}
	if !HasCode(err, CodeAuthorization) {
		t.Fatal("expected HasCode to be true")
	}
	if HasCode(nil, CodeAuthorization) {
		t.Fatal("expected HasCode(nil) to be false")
	}
	if got := CodeOf(stderrors.New("plain")); got != CodeUnknown {
		t.Fatalf("CodeOf(plain) = %q, want %q", got, CodeUnknown)
	}
}

func TestMessageOfHidesPlainErrors(t *testing.T) {
	if got := MessageOf(stderrors.New("sql: connection refused")); got != "internal error" {
		t.Fatalf("MessageOf(plain) = %q", got)
	}
	if got := MessageOf(New(CodeStaleUpdate, "update is older than shelter state")); got != "update is older than shelter state" {
		t.Fatalf("MessageOf(domain) = %q", got)
	}
}

func TestCodeMappings(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		retryable bool
	}{
		{CodeAuthentication, http.StatusUnauthorized, false},
		{CodeAuthorization, http.StatusForbidden, false},
		{CodeStaleUpdate, http.StatusConflict, false},
		{CodePersistence, http.StatusServiceUnavailable, true},
		{CodeNotFound, http.StatusNotFound, false},
		{CodeRateLimited, http.StatusTooManyRequests, true},
		{CodeDelivery, http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.status {
				t.Fatalf("HTTPStatus = %d, want %d", got, tt.status)
			}
			if got := tt.code.Retryable(); got != tt.retryable {
				t.Fatalf("Retryable = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestAsError(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", WithMetadata(CodeStaleUpdate, "stale", map[string]string{"shelterId": "S1"}))
	domainErr, ok := AsError(wrapped)
	if !ok {
		t.Fatal("expected domain error in chain")
	}
	if domainErr.Metadata["shelterId"] != "S1" {
		t.Fatalf("metadata = %v", domainErr.Metadata)
	}
	if _, ok := AsError(fmt.Errorf("plain")); ok {
		t.Fatal("plain error is not a domain error")
	}
}
