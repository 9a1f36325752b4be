package domain

import (
	"errors"
	"testing"

	sessiondomain "dwell/internal/modules/session/domain"
	apperrors "dwell/internal/platform/errors"
)

func activeSession(t *testing.T) Session {
	t.Helper()
	r, err := sessiondomain.Start("c1", sessiondomain.TypeFocus, 1_500_000, 1_000)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return Session{ID: "s1", UserID: "u1", Record: r, CreatedAt: 1_000}
}

func TestApplyCompletesAndStampsEnd(t *testing.T) {
	t.Parallel()

	s := activeSession(t)
	next, changed, err := s.Apply(Patch{Status: sessiondomain.StatusCompleted, Duration: 600_000, WasSuccessful: true}, 601_000)
	if err != nil || !changed {
		t.Fatalf("apply: %v %v", changed, err)
	}
	if next.Holds() {
		t.Fatal("completed session must not hold the user")
	}
	if next.Record.EndTime != 601_000 || next.Record.UpdatedAt != 601_000 {
		t.Fatalf("missing end time should default to now, got %+v", next.Record)
	}
	if s.Record.Status != sessiondomain.StatusActive {
		t.Fatal("apply must not mutate the receiver")
	}
}

func TestApplyOnTerminalSession(t *testing.T) {
	t.Parallel()

	s := activeSession(t)
	done, _, err := s.Apply(Patch{Status: sessiondomain.StatusAbandoned, EndTime: 5_000}, 5_000)
	if err != nil {
		t.Fatalf("abandon: %v", err)
	}
	same, changed, err := done.Apply(Patch{Status: sessiondomain.StatusAbandoned, EndTime: 5_000}, 9_000)
	if err != nil || changed || same.Record.UpdatedAt != done.Record.UpdatedAt {
		t.Fatalf("repeating the final status must be a no-op, got %v %v", changed, err)
	}
	_, _, err = done.Apply(Patch{Status: sessiondomain.StatusActive}, 9_000)
	if !errors.Is(err, apperrors.ErrInvalidSessionState) {
		t.Fatalf("expected ErrInvalidSessionState, got %v", err)
	}
}

func TestApplyRejectsEndBeforeStart(t *testing.T) {
	t.Parallel()

	s := activeSession(t)
	_, _, err := s.Apply(Patch{Status: sessiondomain.StatusCompleted, EndTime: 500}, 2_000)
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
