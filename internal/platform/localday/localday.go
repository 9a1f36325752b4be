// Package localday maps UTC instants onto a user's calendar day.
//
// Offsets are minutes east of UTC: UTC-5 is -300 and UTC+5:30 is +330.
// Client and ledger both bucket through this package so their day
// boundaries agree exactly.
package localday

import (
	"time"

	"golang.org/x/xerrors"

	apperrors "dwell/internal/platform/errors"
)

const (
	MinOffsetMinutes = -720
	MaxOffsetMinutes = 840

	Layout = "2006-01-02"

	dayMs = int64(24 * time.Hour / time.Millisecond)
)

func ValidateOffset(offsetMinutes int) error {
	if offsetMinutes < MinOffsetMinutes || offsetMinutes > MaxOffsetMinutes {
		return xerrors.Errorf("offset %d outside [%d, %d]: %w", offsetMinutes, MinOffsetMinutes, MaxOffsetMinutes, apperrors.ErrInvalidTimezoneOffset)
	}
	return nil
}

// LocalDate returns the YYYY-MM-DD date containing timestampMs for a user
// at offsetMinutes.
func LocalDate(timestampMs int64, offsetMinutes int) (string, error) {
	if err := ValidateOffset(offsetMinutes); err != nil {
		return "", err
	}
	shifted := timestampMs + int64(offsetMinutes)*60_000
	return time.UnixMilli(shifted).UTC().Format(Layout), nil
}

// DayBounds returns the half-open UTC range [startMs, endMs) of localDate.
func DayBounds(localDate string, offsetMinutes int) (int64, int64, error) {
	if err := ValidateOffset(offsetMinutes); err != nil {
		return 0, 0, err
	}
	day, err := ParseDate(localDate)
	if err != nil {
		return 0, 0, err
	}
	start := day.UnixMilli() - int64(offsetMinutes)*60_000
	return start, start + dayMs, nil
}

// ParseDate parses a strict YYYY-MM-DD date at UTC midnight.
func ParseDate(value string) (time.Time, error) {
	if len(value) != len(Layout) {
		return time.Time{}, xerrors.Errorf("date %q: %w", value, apperrors.ErrInvalidInput)
	}
	day, err := time.ParseInLocation(Layout, value, time.UTC)
	if err != nil {
		return time.Time{}, xerrors.Errorf("date %q: %w", value, apperrors.ErrInvalidInput)
	}
	return day, nil
}

// OffsetAt reports the offset of loc at t in minutes east of UTC.
func OffsetAt(loc *time.Location, t time.Time) int {
	_, east := t.In(loc).Zone()
	return east / 60
}
