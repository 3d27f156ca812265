package errors

import (
	"fmt"
	"testing"
)

func TestStintError_Error(t *testing.T) {
	err := &StintError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "session not found",
	}

	expected := "NOT_FOUND: session not found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewInvalidRequest(t *testing.T) {
	err := NewInvalidRequest("goal is too long")

	if err.Code != ErrInvalidRequest {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidRequest)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "goal is too long" {
		t.Errorf("Message = %q, want %q", err.Message, "goal is too long")
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("session", "01HX")

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Status != 404 {
		t.Errorf("Status = %d, want 404", err.Status)
	}
	if err.Details["identifier"] != "01HX" {
		t.Errorf("Details[identifier] = %v, want %q", err.Details["identifier"], "01HX")
	}
}

func TestNewConflict(t *testing.T) {
	err := NewConflict("01HX", "paused")

	if err.Code != ErrConflict {
		t.Errorf("Code = %q, want %q", err.Code, ErrConflict)
	}
	if err.Status != 409 {
		t.Errorf("Status = %d, want 409", err.Status)
	}
	if err.Details["current_status"] != "paused" {
		t.Errorf("Details[current_status] = %v, want paused", err.Details["current_status"])
	}
}

func TestNewInvalidState(t *testing.T) {
	err := NewInvalidState("resume", "active")

	if err.Code != ErrInvalidState {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidState)
	}
	if err.Message != "cannot resume: session is active" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestNewPersistence(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := NewPersistence("local store", cause)

	if err.Code != ErrPersistence {
		t.Errorf("Code = %q, want %q", err.Code, ErrPersistence)
	}
	if err.Status != 503 {
		t.Errorf("Status = %d, want 503", err.Status)
	}
	if err.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), cause)
	}

	noCause := NewPersistence("remote api", nil)
	if noCause.Message != "remote api unavailable" {
		t.Errorf("Message = %q, want %q", noCause.Message, "remote api unavailable")
	}
}

func TestNewMigration(t *testing.T) {
	err := NewMigration(3, map[string]string{"b": "boom"})

	if err.Code != ErrMigration {
		t.Errorf("Code = %q, want %q", err.Code, ErrMigration)
	}
	if err.Details["failed"] != 1 {
		t.Errorf("Details[failed] = %v, want 1", err.Details["failed"])
	}
	if err.Details["attempted"] != 3 {
		t.Errorf("Details[attempted] = %v, want 3", err.Details["attempted"])
	}
}

func TestNewInternal(t *testing.T) {
	err := NewInternal(fmt.Errorf("database connection failed"))

	if err.Code != ErrInternal {
		t.Errorf("Code = %q, want %q", err.Code, ErrInternal)
	}
	if err.Message != "database connection failed" {
		t.Errorf("Message = %q", err.Message)
	}

	nilErr := NewInternal(nil)
	if nilErr.Message != "internal error" {
		t.Errorf("Message = %q, want %q", nilErr.Message, "internal error")
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"matching code", NewConflict("a", "active"), ErrConflict, true},
		{"different code", NewConflict("a", "active"), ErrInvalidState, false},
		{"wrapped", fmt.Errorf("save: %w", NewPersistence("x", nil)), ErrPersistence, true},
		{"plain error", fmt.Errorf("plain"), ErrInternal, false},
		{"nil", nil, ErrInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.want {
				t.Errorf("Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAs(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", NewInvalidState("pause", "none"))

	sErr, ok := As(wrapped)
	if !ok {
		t.Fatal("As() ok = false, want true")
	}
	if sErr.Code != ErrInvalidState {
		t.Errorf("Code = %q, want %q", sErr.Code, ErrInvalidState)
	}

	if _, ok := As(fmt.Errorf("plain")); ok {
		t.Error("As() ok = true for plain error, want false")
	}
}
