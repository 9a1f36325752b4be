package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrNotFound              = errors.New("not found")
	ErrNoActiveSession       = errors.New("no active session")
	ErrActiveSessionExists   = errors.New("active session already exists")
	ErrInvalidTimezoneOffset = errors.New("invalid timezone offset")
	ErrInvalidInterval       = errors.New("invalid interval")
	ErrInvalidSessionState   = errors.New("invalid session state")
	ErrSyncTransport         = errors.New("sync transport error")
	ErrSyncValidation        = errors.New("sync validation error")
)

// TransportError is a retryable remote failure: network errors, timeouts,
// 5xx and 429 responses. Status is zero when no response was received.
type TransportError struct {
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("sync transport: %v", e.Err)
	}
	return fmt.Sprintf("sync transport: status %d: %v", e.Status, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrSyncTransport }

// FieldError addresses one invalid field of a request, e.g. "sessions[2].duration".
type FieldError struct {
	Field  string `json:"field"`
	Detail string `json:"detail"`
}

// ValidationError is a permanent 4xx rejection. Code carries the server's
// machine-readable reason when present.
type ValidationError struct {
	Status  int
	Code    string
	Message string
	Fields  []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Detail)
	}
	msg := fmt.Sprintf("sync validation: status %d: %s", e.Status, e.Message)
	if len(parts) > 0 {
		msg += " (" + strings.Join(parts, "; ") + ")"
	}
	return msg
}

func (e *ValidationError) Is(target error) bool {
	switch target {
	case ErrSyncValidation:
		return true
	case ErrActiveSessionExists:
		return e.Code == CodeActiveSessionExists
	case ErrInvalidSessionState:
		return e.Code == CodeInvalidSessionState
	default:
		return false
	}
}

const (
	CodeActiveSessionExists = "active_session_exists"
	CodeInvalidSessionState = "invalid_session_state"
	CodeValidationFailed    = "validation_failed"
)
