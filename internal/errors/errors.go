package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Stint error code.
type ErrorCode string

const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST" // 400
	ErrUnauthorized   ErrorCode = "UNAUTHORIZED"    // 401
	ErrNotFound       ErrorCode = "NOT_FOUND"       // 404
	ErrFileNotFound   ErrorCode = "FILE_NOT_FOUND"  // 404
	ErrConflict       ErrorCode = "CONFLICT"        // 409 (a session is already live)
	ErrInvalidState   ErrorCode = "INVALID_STATE"   // 409 (transition not valid from current status)
	ErrCancelled      ErrorCode = "CANCELLED"       // 499
	ErrInternal       ErrorCode = "INTERNAL"        // 500
	ErrMigration      ErrorCode = "MIGRATION"       // 502
	ErrPersistence    ErrorCode = "PERSISTENCE"     // 503
)

// StintError represents a structured error with code, status, and details.
type StintError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any

	// Cause is the underlying error, if any. Never exposed to clients.
	Cause error
}

// Error implements the error interface.
func (e *StintError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *StintError) Unwrap() error {
	return e.Cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *StintError {
	return &StintError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewUnauthorized creates a 401 error for missing or rejected credentials.
func NewUnauthorized(msg string) *StintError {
	return &StintError{
		Code:    ErrUnauthorized,
		Status:  401,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for when a record cannot be found.
func NewNotFound(kind, identifier string) *StintError {
	return &StintError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewFileNotFound creates a 404 error for a missing file path.
func NewFileNotFound(path string) *StintError {
	return &StintError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewConflict creates a 409 error when a session is already active or paused.
func NewConflict(currentID, currentStatus string) *StintError {
	return &StintError{
		Code:    ErrConflict,
		Status:  409,
		Message: fmt.Sprintf("session %s is already %s; stop or discard it first", currentID, currentStatus),
		Details: map[string]any{"current_id": currentID, "current_status": currentStatus},
	}
}

// NewInvalidState creates a 409 error for a transition that is not valid
// from the current status. status is "none" when no session is live.
func NewInvalidState(op, status string) *StintError {
	return &StintError{
		Code:    ErrInvalidState,
		Status:  409,
		Message: fmt.Sprintf("cannot %s: session is %s", op, status),
		Details: map[string]any{"operation": op, "status": status},
	}
}

// NewCancelled creates a 499 error when an operation is cancelled by its context.
func NewCancelled(op string) *StintError {
	return &StintError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", op),
	}
}

// NewPersistence creates a 503 error for a failed read or write against a backing store.
func NewPersistence(store string, err error) *StintError {
	msg := fmt.Sprintf("%s unavailable", store)
	if err != nil {
		msg = fmt.Sprintf("%s: %v", store, err)
	}
	return &StintError{
		Code:    ErrPersistence,
		Status:  503,
		Message: msg,
		Details: map[string]any{"store": store},
		Cause:   err,
	}
}

// NewMigration creates a 502 error for a partially failed guest migration.
// failures maps the client id of each failed item to its error message.
func NewMigration(attempted int, failures map[string]string) *StintError {
	return &StintError{
		Code:    ErrMigration,
		Status:  502,
		Message: fmt.Sprintf("migration incomplete: %d of %d items failed; guest data kept for retry", len(failures), attempted),
		Details: map[string]any{"attempted": attempted, "failed": len(failures), "failures": failures},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *StintError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &StintError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		Cause:   err,
	}
}

// Is checks if err (or anything it wraps) is a StintError with the given code.
func Is(err error, code ErrorCode) bool {
	var sErr *StintError
	if stderrors.As(err, &sErr) {
		return sErr.Code == code
	}
	return false
}

// As returns the StintError in err's chain, if any.
func As(err error) (*StintError, bool) {
	var sErr *StintError
	if stderrors.As(err, &sErr) {
		return sErr, true
	}
	return nil, false
}
