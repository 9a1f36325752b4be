package domain

import (
	"errors"
	"testing"
	"time"

	activity "dwell/internal/modules/activity/domain"
	apperrors "dwell/internal/platform/errors"
)

func iv(t *testing.T, id, host string, start time.Time, d time.Duration, offset int, tz string) activity.Interval {
	t.Helper()
	in, err := activity.NewInterval(id, host, start.UnixMilli(), start.Add(d).UnixMilli(), offset, tz, start.Add(d).UnixMilli())
	if err != nil {
		t.Fatalf("new interval: %v", err)
	}
	return in
}

func TestGroupIntervalsSplitsByDomainDayAndZone(t *testing.T) {
	t.Parallel()

	morning := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	// 03:00Z is the previous day at UTC-5.
	early := time.Date(2024, 5, 6, 3, 0, 0, 0, time.UTC)
	groups, err := GroupIntervals([]activity.Interval{
		iv(t, "a", "github.com", morning.Add(time.Hour), time.Minute, 0, "UTC"),
		iv(t, "b", "example.com", morning, time.Minute, 0, "UTC"),
		iv(t, "c", "github.com", morning.Add(2*time.Hour), time.Minute, 0, "UTC"),
		iv(t, "d", "github.com", early, time.Minute, -300, "EST"),
	})
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d: %+v", len(groups), groups)
	}
	if groups[0].Key.Domain != "github.com" || groups[0].Key.LocalDate != "2024-05-05" {
		t.Fatalf("earliest group first, got %+v", groups[0].Key)
	}
	if groups[1].Key.Domain != "example.com" {
		t.Fatalf("unexpected second group %+v", groups[1].Key)
	}
	ids := groups[2].IDs()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "c" {
		t.Fatalf("input order must be kept inside a group, got %v", ids)
	}
}

func TestGroupIntervalsRejectsBadOffset(t *testing.T) {
	t.Parallel()

	in := activity.Interval{ID: "x", Domain: "example.com", StartMs: 0, EndMs: 1000, OffsetMinutes: 9999}
	_, err := GroupIntervals([]activity.Interval{in})
	if !errors.Is(err, apperrors.ErrInvalidTimezoneOffset) {
		t.Fatalf("expected ErrInvalidTimezoneOffset, got %v", err)
	}
}

func TestCursorRebuildAndPrune(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	old := iv(t, "old", "example.com", now.Add(-10*24*time.Hour), time.Minute, 0, "UTC")
	recent := iv(t, "recent", "example.com", now.Add(-time.Hour), time.Minute, 0, "UTC")
	pending := iv(t, "pending", "example.com", now.Add(-time.Minute), time.Second*30, 0, "UTC")

	c := NewCursor()
	c.Rebuild([]activity.Buffered{
		{Interval: old, State: activity.StateAcknowledged},
		{Interval: recent, State: activity.StateAcknowledged},
		{Interval: pending, State: activity.StatePending},
	})
	if c.Len() != 2 || !c.Acked(recent.Key()) || c.Acked(pending.Key()) {
		t.Fatalf("rebuild must only restore acknowledged keys, len=%d", c.Len())
	}
	if n := c.Prune(now.Add(-7 * 24 * time.Hour).UnixMilli()); n != 1 {
		t.Fatalf("expected one pruned key, got %d", n)
	}
	if c.Acked(old.Key()) || !c.Acked(recent.Key()) {
		t.Fatal("prune removed the wrong key")
	}

	c.Begin("pending")
	if !c.InFlight("pending") {
		t.Fatal("expected in-flight id")
	}
	c.Done("pending")
	if c.InFlight("pending") {
		t.Fatal("done must clear in-flight id")
	}
}

func TestResultErrReportsConflicts(t *testing.T) {
	t.Parallel()

	if err := (Result{Synced: 3}).Err(); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	err := Result{Conflicts: []string{"s1"}}.Err()
	if !errors.Is(err, apperrors.ErrActiveSessionExists) {
		t.Fatalf("expected ErrActiveSessionExists, got %v", err)
	}
	if !(Result{}).Empty() || (Result{Deferred: 1}).Empty() {
		t.Fatal("unexpected Empty result")
	}
}
