package domain

import (
	"golang.org/x/xerrors"

	apperrors "dwell/internal/platform/errors"
)

// Result summarises one dispatch cycle. Interval counters are per interval,
// session counters per local session.
type Result struct {
	Synced     int `json:"synced"`
	Failed     int `json:"failed"`
	Dropped    int `json:"dropped"`
	Deferred   int `json:"deferred"`
	Suppressed int `json:"suppressed"`

	Sessions         int `json:"sessions"`
	SessionsFailed   int `json:"sessionsFailed"`
	SessionsDropped  int `json:"sessionsDropped"`
	SessionsDeferred int `json:"sessionsDeferred"`
	// Conflicts lists local session ids the server refused because another
	// session was already active. Each was interrupted locally.
	Conflicts []string `json:"conflicts,omitempty"`
}

// Err reports session conflicts as ErrActiveSessionExists.
func (r Result) Err() error {
	if len(r.Conflicts) == 0 {
		return nil
	}
	return xerrors.Errorf("%d session(s) interrupted: %w", len(r.Conflicts), apperrors.ErrActiveSessionExists)
}

func (r Result) Empty() bool {
	return r.Synced+r.Failed+r.Dropped+r.Deferred+r.Suppressed+r.Sessions+r.SessionsFailed+r.SessionsDropped+r.SessionsDeferred == 0 &&
		len(r.Conflicts) == 0
}

type Status struct {
	Runs       int    `json:"runs"`
	LastRunAt  int64  `json:"lastRunAt"`
	LastResult Result `json:"lastResult"`
	LastError  string `json:"lastError,omitempty"`
	// BackingOff counts interval groups and sessions waiting out a backoff.
	BackingOff int   `json:"backingOff"`
	NextRetry  int64 `json:"nextRetry,omitempty"`
	CursorSize int   `json:"cursorSize"`
}
