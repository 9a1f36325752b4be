package service_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	activity "dwell/internal/modules/activity/domain"
	out "dwell/internal/modules/ledger/adapter/out"
	"dwell/internal/modules/ledger/domain"
	"dwell/internal/modules/ledger/service"
	sessiondomain "dwell/internal/modules/session/domain"
	apperrors "dwell/internal/platform/errors"
	"dwell/internal/platform/sqlitedb"
	"dwell/internal/platform/tx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var epoch = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

type seqIDs struct{ n int }

func (s *seqIDs) New() string {
	s.n++
	return fmt.Sprintf("srv-%d", s.n)
}

func newLedger(t *testing.T) *service.Ledger {
	t.Helper()
	db, err := sqlitedb.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store, err := out.NewSQLiteStore(context.Background(), db)
	require.NoError(t, err)

	mClock := quartz.NewMock(t)
	mClock.Set(epoch)
	l, err := service.New(service.Options{
		Store: store,
		Tx:    tx.NewSQLManager(db),
		IDs:   &seqIDs{},
		Clock: mClock,
		Limits: activity.Limits{
			MaxSession:   (12 * time.Hour).Milliseconds(),
			MaxDaily:     (24 * time.Hour).Milliseconds(),
			HistoryLimit: 100,
		},
		Registerer: prometheus.NewRegistry(),
		Logger:     slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}),
	})
	require.NoError(t, err)
	return l
}

func span(start time.Time, d time.Duration) activity.Span {
	return activity.Span{StartMs: start.UnixMilli(), EndMs: start.Add(d).UnixMilli(), Duration: d.Milliseconds()}
}

func TestUpsertSkipsSpansAlreadyApplied(t *testing.T) {
	t.Parallel()
	l := newLedger(t)
	ctx := context.Background()

	in := service.AggregateInput{
		LocalDate: "2024-05-06",
		Domain:    "github.com",
		Category:  "development",
		Timezone:  activity.Timezone{Name: "UTC"},
		Spans:     []activity.Span{span(epoch, 10*time.Minute), span(epoch.Add(time.Hour), 5*time.Minute)},
	}
	agg, applied, err := l.Upsert(ctx, "u1", in)
	require.NoError(t, err)
	require.Equal(t, 2, applied)
	require.Equal(t, (15 * time.Minute).Milliseconds(), agg.TotalTime)

	// Lost response: the client resends the same batch plus one new span.
	in.Spans = append(in.Spans, span(epoch.Add(2*time.Hour), time.Minute))
	agg, applied, err = l.Upsert(ctx, "u1", in)
	require.NoError(t, err)
	require.Equal(t, 1, applied)
	require.Equal(t, (16 * time.Minute).Milliseconds(), agg.TotalTime)
	require.Equal(t, "development", agg.Category)

	// A second device reports a different span for the same day.
	other := in
	other.Spans = []activity.Span{span(epoch.Add(3*time.Hour), 4*time.Minute)}
	agg, _, err = l.Upsert(ctx, "u1", other)
	require.NoError(t, err)
	require.Equal(t, (20 * time.Minute).Milliseconds(), agg.TotalTime)
}

func TestUpsertClampsAndSaturates(t *testing.T) {
	t.Parallel()
	l := newLedger(t)
	ctx := context.Background()

	day := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)
	bad := span(day, 20*time.Hour)
	bad.Duration = 1
	agg, _, err := l.Upsert(ctx, "u1", service.AggregateInput{
		LocalDate: "2024-05-06", Domain: "example.com", Timezone: activity.Timezone{Name: "UTC"},
		Spans: []activity.Span{bad},
	})
	require.NoError(t, err)
	require.Equal(t, (12 * time.Hour).Milliseconds(), agg.TotalTime)
	require.Equal(t, activity.CategoryOther, agg.Category)

	agg, _, err = l.Upsert(ctx, "u1", service.AggregateInput{
		LocalDate: "2024-05-06", Domain: "example.com", Timezone: activity.Timezone{Name: "UTC"},
		Spans: []activity.Span{span(day.Add(13*time.Hour), 10*time.Hour), span(day.Add(23*time.Hour), 3*time.Hour)},
	})
	require.NoError(t, err)
	require.Equal(t, (24 * time.Hour).Milliseconds(), agg.TotalTime)
}

func TestUpsertRejectsSpansOffTheLocalDate(t *testing.T) {
	t.Parallel()
	l := newLedger(t)

	// 03:00Z on May 6th is still May 5th at UTC-5.
	_, _, err := l.Upsert(context.Background(), "u1", service.AggregateInput{
		LocalDate: "2024-05-06", Domain: "example.com", Timezone: activity.Timezone{Name: "EST", OffsetMinutes: -300},
		Spans: []activity.Span{
			span(epoch, time.Minute),
			span(time.Date(2024, 5, 6, 3, 0, 0, 0, time.UTC), time.Minute),
		},
	})
	var validation *apperrors.ValidationError
	require.True(t, errors.As(err, &validation))
	require.Len(t, validation.Fields, 1)
	require.Equal(t, "sessions[1].startTime", validation.Fields[0].Field)
}

func focus(t *testing.T, clientID string) sessiondomain.Record {
	t.Helper()
	r, err := sessiondomain.Start(clientID, sessiondomain.TypeFocus, (25 * time.Minute).Milliseconds(), epoch.UnixMilli())
	require.NoError(t, err)
	return r
}

func TestCreateSessionIsIdempotentAndExclusive(t *testing.T) {
	t.Parallel()
	l := newLedger(t)
	ctx := context.Background()

	first, created, err := l.CreateSession(ctx, "u1", focus(t, "c1"))
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "srv-1", first.ID)

	again, created, err := l.CreateSession(ctx, "u1", focus(t, "c1"))
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, again.ID)

	_, _, err = l.CreateSession(ctx, "u1", focus(t, "c2"))
	require.ErrorIs(t, err, apperrors.ErrActiveSessionExists)

	// Other users are unaffected.
	_, created, err = l.CreateSession(ctx, "u2", focus(t, "c2"))
	require.NoError(t, err)
	require.True(t, created)

	done, err := l.UpdateSession(ctx, "u1", first.ID, domain.Patch{Status: sessiondomain.StatusCompleted, Duration: 600_000, WasSuccessful: true})
	require.NoError(t, err)
	require.Equal(t, sessiondomain.StatusCompleted, done.Record.Status)

	_, created, err = l.CreateSession(ctx, "u1", focus(t, "c3"))
	require.NoError(t, err)
	require.True(t, created)
}

func TestCreateSessionCatchesUpOnResend(t *testing.T) {
	t.Parallel()
	l := newLedger(t)
	ctx := context.Background()

	r := focus(t, "c1")
	_, _, err := l.CreateSession(ctx, "u1", r)
	require.NoError(t, err)

	paused, err := r.Pause(epoch.Add(5*time.Minute).UnixMilli(), "call")
	require.NoError(t, err)
	s, created, err := l.CreateSession(ctx, "u1", paused)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, sessiondomain.StatusPaused, s.Record.Status)
	require.Len(t, s.Record.PauseHistory, 1)
}

func TestUpdateSession(t *testing.T) {
	t.Parallel()
	l := newLedger(t)
	ctx := context.Background()

	_, err := l.UpdateSession(ctx, "u1", "missing", domain.Patch{Status: sessiondomain.StatusPaused})
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	s, _, err := l.CreateSession(ctx, "u1", focus(t, "c1"))
	require.NoError(t, err)
	_, err = l.UpdateSession(ctx, "u2", s.ID, domain.Patch{Status: sessiondomain.StatusPaused})
	require.ErrorIs(t, err, apperrors.ErrNotFound, "sessions of other users are invisible")

	_, err = l.UpdateSession(ctx, "u1", s.ID, domain.Patch{Status: sessiondomain.StatusAbandoned})
	require.NoError(t, err)
	_, err = l.UpdateSession(ctx, "u1", s.ID, domain.Patch{Status: sessiondomain.StatusActive})
	require.ErrorIs(t, err, apperrors.ErrInvalidSessionState)
}

func TestDayBucketsByTimezone(t *testing.T) {
	t.Parallel()
	l := newLedger(t)
	ctx := context.Background()

	// 02:00Z May 6th is May 5th 21:00 at UTC-5.
	late := focus(t, "c1")
	late.StartTime = time.Date(2024, 5, 6, 2, 0, 0, 0, time.UTC).UnixMilli()
	_, _, err := l.CreateSession(ctx, "u1", late)
	require.NoError(t, err)
	_, _, err = l.Upsert(ctx, "u1", service.AggregateInput{
		LocalDate: "2024-05-05", Domain: "example.com", Timezone: activity.Timezone{Name: "EST", OffsetMinutes: -300},
		Spans: []activity.Span{span(time.Date(2024, 5, 6, 2, 0, 0, 0, time.UTC), 30*time.Minute)},
	})
	require.NoError(t, err)

	utc, err := l.Day(ctx, "u1", "2024-05-06", nil, false)
	require.NoError(t, err)
	require.Len(t, utc.Sessions, 1)
	require.Empty(t, utc.Aggregates)

	remembered, err := l.Day(ctx, "u1", "2024-05-05", nil, true)
	require.NoError(t, err)
	require.Equal(t, -300, remembered.Timezone.OffsetMinutes)
	require.Len(t, remembered.Sessions, 1)
	require.Equal(t, (30 * time.Minute).Milliseconds(), remembered.TotalTime())

	east := 330
	today, err := l.Day(ctx, "u1", "", &east, false)
	require.NoError(t, err)
	require.Equal(t, "2024-05-06", today.LocalDate)

	bad := 5000
	_, err = l.Day(ctx, "u1", "", &bad, false)
	require.ErrorIs(t, err, apperrors.ErrInvalidTimezoneOffset)
}
