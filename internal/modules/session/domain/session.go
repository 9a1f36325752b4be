package domain

import (
	"golang.org/x/xerrors"

	apperrors "dwell/internal/platform/errors"
)

type Type string

const (
	TypeFocus   Type = "focus"
	TypeProblem Type = "problem"
)

func (t Type) Valid() bool { return t == TypeFocus || t == TypeProblem }

type Status string

const (
	StatusActive      Status = "active"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusInterrupted Status = "interrupted"
	StatusAbandoned   Status = "abandoned"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusInterrupted || s == StatusAbandoned
}

type PauseEntry struct {
	PausedAt int64 `json:"pausedAt"`
	// ResumedAt is nil while the pause is open.
	ResumedAt *int64 `json:"resumedAt,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func (p PauseEntry) Open() bool { return p.ResumedAt == nil }

// Record is a focus or problem-solving session. Times are Unix milliseconds.
type Record struct {
	LocalID         string       `json:"localId"`
	SessionID       string       `json:"sessionId,omitempty"`
	Type            Type         `json:"sessionType"`
	PlannedDuration int64        `json:"plannedDuration"`
	StartTime       int64        `json:"startTime"`
	EndTime         int64        `json:"endTime,omitempty"`
	Status          Status       `json:"status"`
	PausedDuration  int64        `json:"pausedDuration"`
	PauseHistory    []PauseEntry `json:"pauseHistory"`
	Duration        int64        `json:"duration"`
	Notes           string       `json:"notes,omitempty"`
	WasSuccessful   bool         `json:"wasSuccessful"`
	EndReason       string       `json:"endReason,omitempty"`
	UpdatedAt       int64        `json:"updatedAt"`
}

func Start(localID string, sessionType Type, planned, now int64) (Record, error) {
	if !sessionType.Valid() {
		return Record{}, xerrors.Errorf("session type %q: %w", sessionType, apperrors.ErrInvalidInput)
	}
	if planned <= 0 {
		return Record{}, xerrors.Errorf("planned duration must be positive: %w", apperrors.ErrInvalidInput)
	}
	return Record{
		LocalID:         localID,
		Type:            sessionType,
		PlannedDuration: planned,
		StartTime:       now,
		Status:          StatusActive,
		PauseHistory:    []PauseEntry{},
		UpdatedAt:       now,
	}, nil
}

func (r Record) illegal(op string) error {
	return xerrors.Errorf("%s from %s: %w", op, r.Status, apperrors.ErrInvalidSessionState)
}

// Pause is only legal from active.
func (r Record) Pause(now int64, reason string) (Record, error) {
	if r.Status != StatusActive {
		return r, r.illegal("pause")
	}
	next := r.clone()
	next.PauseHistory = append(next.PauseHistory, PauseEntry{PausedAt: now, Reason: reason})
	next.Status = StatusPaused
	next.UpdatedAt = now
	return next, nil
}

// Resume is only legal from paused and closes the most recent open pause.
func (r Record) Resume(now int64) (Record, error) {
	if r.Status != StatusPaused {
		return r, r.illegal("resume")
	}
	next := r.clone()
	next.closeLastPause(now)
	next.Status = StatusActive
	next.UpdatedAt = now
	return next, nil
}

func (r Record) Complete(now int64, notes string, wasSuccessful bool) (Record, error) {
	if r.Status != StatusActive && r.Status != StatusPaused {
		return r, r.illegal("complete")
	}
	next := r.clone()
	next.finish(now, StatusCompleted)
	next.Notes = notes
	next.WasSuccessful = wasSuccessful
	return next, nil
}

// Abandon ends the session unsuccessfully. An interrupted ending is only
// legal from active; a plain abandon is legal from active or paused.
func (r Record) Abandon(now int64, reason string, interrupted bool) (Record, error) {
	status := StatusAbandoned
	if interrupted {
		status = StatusInterrupted
		if r.Status != StatusActive {
			return r, r.illegal("interrupt")
		}
	} else if r.Status != StatusActive && r.Status != StatusPaused {
		return r, r.illegal("abandon")
	}
	next := r.clone()
	next.finish(now, status)
	next.EndReason = reason
	next.WasSuccessful = false
	return next, nil
}

// ForceInterrupt ends a non-terminal session that the server refused to
// accept because another session already owns the user.
func (r Record) ForceInterrupt(now int64, reason string) (Record, error) {
	if r.Status.Terminal() {
		return r, r.illegal("interrupt")
	}
	next := r.clone()
	next.finish(now, StatusInterrupted)
	next.EndReason = reason
	next.WasSuccessful = false
	return next, nil
}

// ActiveElapsed is time spent active so far, net of pauses.
func (r Record) ActiveElapsed(now int64) int64 {
	if r.Status.Terminal() {
		return r.Duration
	}
	paused := r.PausedDuration
	if r.Status == StatusPaused {
		if last, ok := r.lastOpenPause(); ok && now > r.PauseHistory[last].PausedAt {
			paused += now - r.PauseHistory[last].PausedAt
		}
	}
	elapsed := now - r.StartTime - paused
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// ExpiresAt is the wall-clock instant an active session reaches its planned
// duration given the pauses taken so far.
func (r Record) ExpiresAt() int64 {
	return r.StartTime + r.PlannedDuration + r.PausedDuration
}

func (r Record) Expired(now int64) bool {
	return r.Status == StatusActive && now >= r.ExpiresAt()
}

func (r *Record) finish(now int64, status Status) {
	if r.Status == StatusPaused {
		r.closeLastPause(now)
	}
	end := now
	if end <= r.StartTime {
		end = r.StartTime + 1
	}
	r.EndTime = end
	r.Status = status
	r.Duration = end - r.StartTime - r.PausedDuration
	if r.Duration < 0 {
		r.Duration = 0
	}
	r.UpdatedAt = now
}

func (r *Record) closeLastPause(now int64) {
	last, ok := r.lastOpenPause()
	if !ok {
		return
	}
	entry := r.PauseHistory[last]
	resumed := now
	if resumed <= entry.PausedAt {
		resumed = entry.PausedAt
	}
	r.PauseHistory[last].ResumedAt = &resumed
	r.PausedDuration += resumed - entry.PausedAt
}

func (r Record) lastOpenPause() (int, bool) {
	for i := len(r.PauseHistory) - 1; i >= 0; i-- {
		if r.PauseHistory[i].Open() {
			return i, true
		}
	}
	return 0, false
}

func (r Record) clone() Record {
	next := r
	next.PauseHistory = append([]PauseEntry(nil), r.PauseHistory...)
	return next
}
