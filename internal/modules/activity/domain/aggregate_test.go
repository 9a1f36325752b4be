package domain

import (
	"errors"
	"testing"
	"time"

	apperrors "dwell/internal/platform/errors"
)

var testLimits = Limits{
	MaxSession:   (12 * time.Hour).Milliseconds(),
	MaxDaily:     (24 * time.Hour).Milliseconds(),
	HistoryLimit: 3,
}

func TestNormalizeClampsTwentyHourInterval(t *testing.T) {
	t.Parallel()

	start := int64(1_700_000_000_000)
	in := Interval{ID: "a", Domain: "example.com", StartMs: start, EndMs: start + (20 * time.Hour).Milliseconds()}
	in.Duration = in.EndMs - in.StartMs

	out, corrections, err := Normalize(in, testLimits.MaxSession)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if out.Duration != testLimits.MaxSession || out.EndMs != start+testLimits.MaxSession {
		t.Fatalf("expected clamp to 12h, got %+v", out)
	}
	if len(corrections) != 1 || corrections[0] != CorrectionClamped {
		t.Fatalf("unexpected corrections %v", corrections)
	}
}

func TestNormalizeRecomputesDuration(t *testing.T) {
	t.Parallel()

	out, corrections, err := Normalize(Interval{StartMs: 1000, EndMs: 6000, Duration: 42}, testLimits.MaxSession)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if out.Duration != 5000 || len(corrections) != 1 || corrections[0] != CorrectionRecomputed {
		t.Fatalf("unexpected result %+v %v", out, corrections)
	}
}

func TestNormalizeRejectsInvertedInterval(t *testing.T) {
	t.Parallel()

	for _, in := range []Interval{{StartMs: 10, EndMs: 10}, {StartMs: 10, EndMs: 5}} {
		if _, _, err := Normalize(in, testLimits.MaxSession); !errors.Is(err, apperrors.ErrInvalidInterval) {
			t.Fatalf("expected ErrInvalidInterval, got %v", err)
		}
	}
}

func TestApplySaturatesAtDailyCap(t *testing.T) {
	t.Parallel()

	agg := Aggregate{Domain: "example.com"}
	twelve := testLimits.MaxSession
	for i := 0; i < 5; i++ {
		var outcome Outcome
		agg, outcome = agg.Apply(Span{StartMs: int64(i), EndMs: int64(i) + twelve, Duration: twelve}, testLimits)
		if agg.TotalTime > testLimits.MaxDaily {
			t.Fatalf("total %d exceeds cap", agg.TotalTime)
		}
		if i >= 2 && (outcome.Added != 0 || !outcome.Saturated) {
			t.Fatalf("step %d: expected saturated no-op, got %+v", i, outcome)
		}
	}
	if agg.TotalTime != testLimits.MaxDaily {
		t.Fatalf("expected total at cap, got %d", agg.TotalTime)
	}
	if len(agg.Sessions) != testLimits.HistoryLimit {
		t.Fatalf("history must be bounded, got %d", len(agg.Sessions))
	}
	if agg.Sessions[0].StartMs != 2 {
		t.Fatalf("oldest spans must be evicted first, got %+v", agg.Sessions[0])
	}
}

func TestApplyDoesNotMutateReceiver(t *testing.T) {
	t.Parallel()

	base := Aggregate{Sessions: []Span{{StartMs: 1, EndMs: 2, Duration: 1}}}
	_, _ = base.Apply(Span{StartMs: 3, EndMs: 5, Duration: 2}, testLimits)
	if len(base.Sessions) != 1 || base.TotalTime != 0 {
		t.Fatalf("receiver mutated: %+v", base)
	}
}

func TestRaiseIsMonotonic(t *testing.T) {
	t.Parallel()

	agg := Aggregate{TotalTime: 5000}
	if _, changed := agg.Raise(4000, testLimits.MaxDaily); changed {
		t.Fatalf("lower remote total must not move local total backward")
	}
	raised, changed := agg.Raise(9000, testLimits.MaxDaily)
	if !changed || raised.TotalTime != 9000 {
		t.Fatalf("expected raise to 9000, got %+v", raised)
	}
	capped, _ := agg.Raise(testLimits.MaxDaily*2, testLimits.MaxDaily)
	if capped.TotalTime != testLimits.MaxDaily {
		t.Fatalf("remote total must be capped, got %d", capped.TotalTime)
	}
}

func TestNewIntervalDerivesDuration(t *testing.T) {
	t.Parallel()

	in, err := NewInterval("id", "example.com", 1000, 4000, -300, "EST", 5000)
	if err != nil {
		t.Fatalf("new interval: %v", err)
	}
	if in.Duration != 3000 || in.Kind != KindWeb {
		t.Fatalf("unexpected interval %+v", in)
	}
	if date, _ := in.LocalDate(); date != "1969-12-31" {
		t.Fatalf("unexpected local date %s", date)
	}
	if _, err := NewInterval("id", "chrome://x", 1, 2, 0, "", 0); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("expected invalid domain, got %v", err)
	}
	if _, err := NewInterval("id", "example.com", 1, 2, 2000, "", 0); !errors.Is(err, apperrors.ErrInvalidTimezoneOffset) {
		t.Fatalf("expected invalid offset, got %v", err)
	}
}

func TestCategoryForMatchesParents(t *testing.T) {
	t.Parallel()

	if got := CategoryFor("gist.github.com", nil); got != "development" {
		t.Fatalf("expected development, got %s", got)
	}
	if got := CategoryFor("gist.github.com", map[string]string{"gist.github.com": "notes"}); got != "notes" {
		t.Fatalf("override must win, got %s", got)
	}
	if got := CategoryFor("unknown.example", nil); got != CategoryOther {
		t.Fatalf("expected other, got %s", got)
	}
}
