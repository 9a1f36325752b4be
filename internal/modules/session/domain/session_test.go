package domain

import (
	"errors"
	"reflect"
	"testing"

	apperrors "dwell/internal/platform/errors"
)

func mustStart(t *testing.T, now int64) Record {
	t.Helper()
	r, err := Start("local-1", TypeFocus, 25*60_000, now)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return r
}

func TestDurationAccountingNetOfPauses(t *testing.T) {
	t.Parallel()

	r := mustStart(t, 0)
	r, err := r.Pause(600_000, "coffee")
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	r, err = r.Resume(900_000)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	r, err = r.Complete(1_800_000, "done", true)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if r.PausedDuration != 300_000 {
		t.Fatalf("pausedDuration = %d, want 300000", r.PausedDuration)
	}
	if r.Duration != 1_500_000 {
		t.Fatalf("duration = %d, want 1500000", r.Duration)
	}
	if r.Status != StatusCompleted || !r.WasSuccessful || r.EndTime != 1_800_000 {
		t.Fatalf("unexpected record %+v", r)
	}
}

func TestPauseOnCompletedLeavesRecordUnchanged(t *testing.T) {
	t.Parallel()

	r := mustStart(t, 1_000)
	r, err := r.Complete(5_000, "", true)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	before := r
	after, err := r.Pause(6_000, "late")
	if !errors.Is(err, apperrors.ErrInvalidSessionState) {
		t.Fatalf("expected ErrInvalidSessionState, got %v", err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("record changed on illegal transition: %+v vs %+v", before, after)
	}
}

func TestSecondPauseFailsAndResumeClosesOnlyLatest(t *testing.T) {
	t.Parallel()

	r := mustStart(t, 0)
	r, err := r.Pause(1_000, "first")
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := r.Pause(2_000, "second"); !errors.Is(err, apperrors.ErrInvalidSessionState) {
		t.Fatalf("expected second pause to fail, got %v", err)
	}

	// A record carrying two open entries, as a crash between writes could
	// leave behind, only has its newest entry closed.
	r.PauseHistory = append(r.PauseHistory, PauseEntry{PausedAt: 3_000, Reason: "stale"})
	r, err = r.Resume(4_000)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !r.PauseHistory[0].Open() {
		t.Fatalf("older open entry must stay untouched")
	}
	if r.PauseHistory[1].Open() || *r.PauseHistory[1].ResumedAt != 4_000 {
		t.Fatalf("latest entry must be closed at resume time: %+v", r.PauseHistory[1])
	}
	if r.PausedDuration != 1_000 {
		t.Fatalf("only the latest pause counts, got %d", r.PausedDuration)
	}
}

func TestTransitionTable(t *testing.T) {
	t.Parallel()

	active := mustStart(t, 0)
	paused, _ := active.Pause(10, "")
	completed, _ := active.Complete(20, "", true)
	abandoned, _ := active.Abandon(20, "", false)
	interrupted, _ := active.Abandon(20, "tab closed", true)

	type transition func(Record) (Record, error)
	ops := map[string]transition{
		"pause":     func(r Record) (Record, error) { return r.Pause(30, "") },
		"resume":    func(r Record) (Record, error) { return r.Resume(30) },
		"complete":  func(r Record) (Record, error) { return r.Complete(30, "", true) },
		"abandon":   func(r Record) (Record, error) { return r.Abandon(30, "", false) },
		"interrupt": func(r Record) (Record, error) { return r.Abandon(30, "", true) },
	}
	legal := map[Status]map[string]bool{
		StatusActive:      {"pause": true, "complete": true, "abandon": true, "interrupt": true},
		StatusPaused:      {"resume": true, "complete": true, "abandon": true},
		StatusCompleted:   {},
		StatusAbandoned:   {},
		StatusInterrupted: {},
	}
	for _, from := range []Record{active, paused, completed, abandoned, interrupted} {
		for name, op := range ops {
			_, err := op(from)
			if legal[from.Status][name] && err != nil {
				t.Fatalf("%s from %s should be legal: %v", name, from.Status, err)
			}
			if !legal[from.Status][name] && !errors.Is(err, apperrors.ErrInvalidSessionState) {
				t.Fatalf("%s from %s should fail with ErrInvalidSessionState, got %v", name, from.Status, err)
			}
		}
	}
}

func TestCompleteFromPausedClosesOpenPause(t *testing.T) {
	t.Parallel()

	r := mustStart(t, 0)
	r, _ = r.Pause(100_000, "")
	r, err := r.Abandon(160_000, "gave up", false)
	if err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if r.PauseHistory[0].Open() || r.PausedDuration != 60_000 || r.Duration != 100_000 {
		t.Fatalf("unexpected record %+v", r)
	}
	if r.WasSuccessful || r.Status != StatusAbandoned || r.EndReason != "gave up" {
		t.Fatalf("unexpected outcome %+v", r)
	}
}

func TestEndTimeAlwaysAfterStart(t *testing.T) {
	t.Parallel()

	r := mustStart(t, 5_000)
	r, err := r.Complete(5_000, "", true)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if r.EndTime <= r.StartTime {
		t.Fatalf("end %d must be after start %d", r.EndTime, r.StartTime)
	}
}

func TestExpiryAccountsForPauses(t *testing.T) {
	t.Parallel()

	r := mustStart(t, 0)
	planned := r.PlannedDuration
	r, _ = r.Pause(60_000, "")
	if r.Expired(planned + 10) {
		t.Fatalf("paused sessions do not expire")
	}
	r, _ = r.Resume(120_000)
	if r.ExpiresAt() != planned+60_000 {
		t.Fatalf("expiry should shift by paused time, got %d", r.ExpiresAt())
	}
	if r.Expired(planned + 59_999) {
		t.Fatalf("not yet expired")
	}
	if !r.Expired(planned + 60_000) {
		t.Fatalf("expected expiry")
	}
	if got := r.ActiveElapsed(planned + 60_000); got != planned {
		t.Fatalf("active elapsed = %d, want %d", got, planned)
	}
}

func TestForceInterruptFromPaused(t *testing.T) {
	t.Parallel()

	r := mustStart(t, 0)
	r, _ = r.Pause(1_000, "")
	r, err := r.ForceInterrupt(3_000, "active_session_exists")
	if err != nil {
		t.Fatalf("force interrupt: %v", err)
	}
	if r.Status != StatusInterrupted || r.PausedDuration != 2_000 {
		t.Fatalf("unexpected record %+v", r)
	}
	if _, err := r.ForceInterrupt(4_000, ""); !errors.Is(err, apperrors.ErrInvalidSessionState) {
		t.Fatalf("terminal sessions are immutable, got %v", err)
	}
}

func TestStartValidatesInput(t *testing.T) {
	t.Parallel()

	if _, err := Start("x", "meditation", 1000, 0); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("expected invalid type, got %v", err)
	}
	if _, err := Start("x", TypeProblem, 0, 0); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("expected invalid duration, got %v", err)
	}
}
