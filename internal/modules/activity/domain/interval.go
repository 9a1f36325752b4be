package domain

import (
	"golang.org/x/xerrors"

	apperrors "dwell/internal/platform/errors"
	"dwell/internal/platform/hostname"
	"dwell/internal/platform/localday"
)

const KindWeb = "web"

// Interval is one contiguous span of time on a domain. It is immutable once
// buffered.
type Interval struct {
	ID            string `json:"id"`
	Kind          string `json:"kind"`
	Domain        string `json:"domain"`
	StartMs       int64  `json:"startMs"`
	EndMs         int64  `json:"endMs"`
	Duration      int64  `json:"duration"`
	OffsetMinutes int    `json:"offsetMinutes"`
	TimezoneName  string `json:"timezoneName"`
	CreatedAt     int64  `json:"createdAt"`
}

// Key identifies an interval independently of its local id.
type Key struct {
	StartMs int64
	EndMs   int64
	Domain  string
}

func (i Interval) Key() Key {
	return Key{StartMs: i.StartMs, EndMs: i.EndMs, Domain: i.Domain}
}

// LocalDate is the user's calendar day the interval is bucketed into.
func (i Interval) LocalDate() (string, error) {
	return localday.LocalDate(i.StartMs, i.OffsetMinutes)
}

// NewInterval builds an interval with Duration derived from its bounds.
func NewInterval(id, domain string, startMs, endMs int64, offsetMinutes int, tzName string, createdAt int64) (Interval, error) {
	if !hostname.Valid(domain) {
		return Interval{}, xerrors.Errorf("domain %q: %w", domain, apperrors.ErrInvalidInput)
	}
	if endMs <= startMs {
		return Interval{}, xerrors.Errorf("end %d <= start %d: %w", endMs, startMs, apperrors.ErrInvalidInterval)
	}
	if err := localday.ValidateOffset(offsetMinutes); err != nil {
		return Interval{}, err
	}
	return Interval{
		ID:            id,
		Kind:          KindWeb,
		Domain:        domain,
		StartMs:       startMs,
		EndMs:         endMs,
		Duration:      endMs - startMs,
		OffsetMinutes: offsetMinutes,
		TimezoneName:  tzName,
		CreatedAt:     createdAt,
	}, nil
}

type Correction string

const (
	CorrectionRecomputed Correction = "duration_recomputed"
	CorrectionClamped    Correction = "duration_clamped"
)

// Normalize repairs an interval where that is safe. Duration is recomputed
// from the bounds and clamped to maxSession, moving EndMs with it. Intervals
// that end at or before their start cannot be repaired.
func Normalize(in Interval, maxSession int64) (Interval, []Correction, error) {
	if in.EndMs <= in.StartMs {
		return Interval{}, nil, xerrors.Errorf("interval %s: end %d <= start %d: %w", in.ID, in.EndMs, in.StartMs, apperrors.ErrInvalidInterval)
	}
	var corrections []Correction
	out := in
	if span := out.EndMs - out.StartMs; out.Duration != span {
		out.Duration = span
		corrections = append(corrections, CorrectionRecomputed)
	}
	if maxSession > 0 && out.Duration > maxSession {
		out.Duration = maxSession
		out.EndMs = out.StartMs + maxSession
		corrections = append(corrections, CorrectionClamped)
	}
	return out, corrections, nil
}
