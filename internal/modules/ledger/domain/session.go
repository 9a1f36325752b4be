package domain

import (
	"golang.org/x/xerrors"

	sessiondomain "dwell/internal/modules/session/domain"
	apperrors "dwell/internal/platform/errors"
)

// Session is the ledger's copy of a client session. Record.LocalID carries
// the client session id and Record.SessionID the ledger id.
type Session struct {
	ID        string
	UserID    string
	Record    sessiondomain.Record
	CreatedAt int64
}

// Holds reports whether the session still owns its user.
func (s Session) Holds() bool { return !s.Record.Status.Terminal() }

// Patch is a client snapshot applied to an existing session.
type Patch struct {
	Status         sessiondomain.Status
	EndTime        int64
	Duration       int64
	PausedDuration int64
	PauseHistory   []sessiondomain.PauseEntry
	Notes          string
	WasSuccessful  bool
	EndReason      string
}

// PatchFrom is the patch that brings a session up to record.
func PatchFrom(r sessiondomain.Record) Patch {
	return Patch{
		Status:         r.Status,
		EndTime:        r.EndTime,
		Duration:       r.Duration,
		PausedDuration: r.PausedDuration,
		PauseHistory:   r.PauseHistory,
		Notes:          r.Notes,
		WasSuccessful:  r.WasSuccessful,
		EndReason:      r.EndReason,
	}
}

// Apply updates the session from p. A terminal session only accepts a repeat
// of its final status, which changes nothing. Apply reports whether the
// session changed.
func (s Session) Apply(p Patch, now int64) (Session, bool, error) {
	if s.Record.Status.Terminal() {
		if p.Status == s.Record.Status {
			return s, false, nil
		}
		return s, false, xerrors.Errorf("session %s is %s, cannot become %s: %w", s.ID, s.Record.Status, p.Status, apperrors.ErrInvalidSessionState)
	}
	next := s
	r := s.Record
	r.Status = p.Status
	r.Duration = p.Duration
	r.PausedDuration = p.PausedDuration
	r.PauseHistory = append([]sessiondomain.PauseEntry{}, p.PauseHistory...)
	r.Notes = p.Notes
	r.WasSuccessful = p.WasSuccessful
	r.EndReason = p.EndReason
	r.EndTime = p.EndTime
	if r.Status.Terminal() && r.EndTime == 0 {
		r.EndTime = now
	}
	if r.EndTime != 0 && r.EndTime < r.StartTime {
		return s, false, xerrors.Errorf("end %d before start %d: %w", r.EndTime, r.StartTime, apperrors.ErrInvalidInput)
	}
	r.UpdatedAt = now
	next.Record = r
	return next, true, nil
}
