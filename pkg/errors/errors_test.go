package errors

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New("test error")
	if err == nil {
		t.Fatal("New() returned nil")
	}

	if !strings.Contains(err.Error(), "test error") {
		t.Errorf("Expected error message to contain 'test error', got: %s", err.Error())
	}

	if err.Location() == "" {
		t.Error("Location should not be empty")
	}
}

func TestWrap(t *testing.T) {
	baseErr := errors.New("base error")
	err := Wrap(baseErr, "wrapped")

	if err == nil {
		t.Fatal("Wrap() returned nil")
	}

	if !strings.Contains(err.Error(), "wrapped") {
		t.Errorf("Expected error message to contain 'wrapped', got: %s", err.Error())
	}

	if !strings.Contains(err.Error(), "base error") {
		t.Errorf("Expected error message to contain 'base error', got: %s", err.Error())
	}

	unwrapped := errors.Unwrap(err)
	if unwrapped != baseErr {
		t.Errorf("Unwrap() returned wrong error: %v", unwrapped)
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(nil, "wrapped"); err != nil {
		t.Errorf("Wrap(nil) should return nil, got: %v", err)
	}
}

func TestWithField(t *testing.T) {
	err := New("test error").WithField("call_id", "abc-123")

	fields := err.GetFields()
	if len(fields) != 1 {
		t.Fatalf("Expected 1 field, got %d", len(fields))
	}

	if fields["call_id"] != "abc-123" {
		t.Errorf("Expected field['call_id'] = 'abc-123', got: %v", fields["call_id"])
	}
}

func TestSentinelMatching(t *testing.T) {
	err := Wrap(ErrConversationNotFound, "lookup failed").WithField("call_id", "abc")

	if !errors.Is(err, ErrConversationNotFound) {
		t.Error("wrapped sentinel should still match with errors.Is")
	}

	if errors.Is(err, ErrAllProvidersFailed) {
		t.Error("error should not match an unrelated sentinel")
	}
}

func TestHTTPStatusFromError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil", nil, http.StatusOK},
		{"not found", ErrConversationNotFound, http.StatusNotFound},
		{"invalid input", Wrap(ErrInvalidInput, "bad payload"), http.StatusBadRequest},
		{"providers exhausted", ErrAllProvidersFailed, http.StatusBadGateway},
		{"rate limited", ErrResourceExhausted, http.StatusTooManyRequests},
		{"unknown", errors.New("mystery"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatusFromError(tt.err); got != tt.expected {
				t.Errorf("HTTPStatusFromError(%v) = %d, want %d", tt.err, got, tt.expected)
			}
		})
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, Wrap(ErrConversationNotFound, "no such call").WithField("call_id", "abc"))

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %s", ct)
	}

	if !strings.Contains(rec.Body.String(), "no such call") {
		t.Errorf("Response body missing error message: %s", rec.Body.String())
	}
}
