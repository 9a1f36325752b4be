package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/coder/quartz"

	"dwell/internal/modules/activity/domain"
	apperrors "dwell/internal/platform/errors"
	"dwell/internal/platform/tx"
)

func newMerger(t *testing.T, store *memoryAggregates) *Merger {
	t.Helper()
	limits := domain.Limits{
		MaxSession:   (12 * time.Hour).Milliseconds(),
		MaxDaily:     (24 * time.Hour).Milliseconds(),
		HistoryLimit: 100,
	}
	return NewMerger(store, staticCategories{"github.com": "development"}, tx.NoopManager{}, quartz.NewMock(t), limits,
		slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}))
}

func TestMergeBucketsByLocalDate(t *testing.T) {
	t.Parallel()
	store := newMemoryAggregates()
	merger := newMerger(t, store)

	// 2024-01-01T04:30:00Z is still Dec 31st at UTC-5.
	start := time.Date(2024, 1, 1, 4, 30, 0, 0, time.UTC).UnixMilli()
	in, err := domain.NewInterval("a", "github.com", start, start+60_000, -300, "EST", start)
	if err != nil {
		t.Fatalf("new interval: %v", err)
	}
	agg, err := merger.Merge(context.Background(), "u", in)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if agg.LocalDate != "2023-12-31" || agg.Category != "development" || agg.TotalTime != 60_000 {
		t.Fatalf("unexpected aggregate %+v", agg)
	}
	if agg.Timezone.OffsetMinutes != -300 || agg.Timezone.Name != "EST" {
		t.Fatalf("timezone not recorded: %+v", agg.Timezone)
	}
}

func TestMergeClampsAndSaturates(t *testing.T) {
	t.Parallel()
	store := newMemoryAggregates()
	merger := newMerger(t, store)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	twenty := (20 * time.Hour).Milliseconds()
	var last domain.Aggregate
	for i := int64(0); i < 4; i++ {
		start := base + i
		in := domain.Interval{ID: "x", Domain: "example.com", StartMs: start, EndMs: start + twenty, Duration: twenty}
		agg, err := merger.Merge(ctx, "u", in)
		if err != nil {
			t.Fatalf("merge %d: %v", i, err)
		}
		if agg.TotalTime > (24 * time.Hour).Milliseconds() {
			t.Fatalf("total exceeded cap: %d", agg.TotalTime)
		}
		if got := agg.Sessions[len(agg.Sessions)-1].Duration; got != (12 * time.Hour).Milliseconds() {
			t.Fatalf("interval not clamped: %d", got)
		}
		last = agg
	}
	if last.TotalTime != (24 * time.Hour).Milliseconds() {
		t.Fatalf("expected saturation at cap, got %d", last.TotalTime)
	}
}

func TestMergeRecomputesDurationAndRejectsInverted(t *testing.T) {
	t.Parallel()
	merger := newMerger(t, newMemoryAggregates())
	ctx := context.Background()

	agg, err := merger.Merge(ctx, "u", domain.Interval{ID: "a", Domain: "example.com", StartMs: 0, EndMs: 10_000, Duration: 1})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if agg.TotalTime != 10_000 {
		t.Fatalf("expected recomputed duration, got %d", agg.TotalTime)
	}
	_, err = merger.Merge(ctx, "u", domain.Interval{ID: "b", Domain: "example.com", StartMs: 10, EndMs: 5})
	if !errors.Is(err, apperrors.ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
	_, err = merger.Merge(ctx, "u", domain.Interval{ID: "c", Domain: "example.com", StartMs: 0, EndMs: 5, OffsetMinutes: 5000})
	if !errors.Is(err, apperrors.ErrInvalidTimezoneOffset) {
		t.Fatalf("expected ErrInvalidTimezoneOffset, got %v", err)
	}
}

func TestReconcileNeverLowersTotal(t *testing.T) {
	t.Parallel()
	store := newMemoryAggregates()
	merger := newMerger(t, store)
	ctx := context.Background()

	if _, err := merger.Merge(ctx, "u", domain.Interval{ID: "a", Domain: "example.com", StartMs: 0, EndMs: 30_000, Duration: 30_000}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	got, err := merger.Reconcile(ctx, domain.Aggregate{UserID: "u", LocalDate: "1970-01-01", Domain: "example.com", TotalTime: 10_000})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if got.TotalTime != 30_000 {
		t.Fatalf("lower remote total must not lower local, got %d", got.TotalTime)
	}
	got, err = merger.Reconcile(ctx, domain.Aggregate{UserID: "u", LocalDate: "1970-01-01", Domain: "example.com", TotalTime: 45_000})
	if err != nil || got.TotalTime != 45_000 {
		t.Fatalf("expected raise to remote total, got %d (%v)", got.TotalTime, err)
	}
	fresh, err := merger.Reconcile(ctx, domain.Aggregate{UserID: "u", LocalDate: "1970-01-01", Domain: "github.com", TotalTime: 7_000})
	if err != nil || fresh.TotalTime != 7_000 {
		t.Fatalf("remote-only aggregate should be created, got %+v (%v)", fresh, err)
	}
	day, err := merger.Day(ctx, "u", "1970-01-01")
	if err != nil || len(day) != 2 {
		t.Fatalf("unexpected day %+v (%v)", day, err)
	}
}
