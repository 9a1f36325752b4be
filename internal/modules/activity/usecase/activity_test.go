package usecase

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/coder/quartz"

	"dwell/internal/modules/activity/domain"
	"dwell/internal/modules/activity/dto"
	"dwell/internal/modules/activity/service"
	"dwell/internal/platform/tx"
)

type fakeBuffer struct {
	minDuration int64
	items       map[string]domain.Buffered
}

func (b *fakeBuffer) Append(_ context.Context, in domain.Interval) (bool, error) {
	if in.Duration < b.minDuration {
		return false, nil
	}
	if _, ok := b.items[in.ID]; ok {
		return false, nil
	}
	b.items[in.ID] = domain.Buffered{Interval: in, State: domain.StatePending}
	return true, nil
}

func (b *fakeBuffer) Drain(_ context.Context, limit int) ([]domain.Interval, error) {
	var out []domain.Interval
	for _, item := range b.sorted() {
		if item.State == domain.StatePending && len(out) < limit {
			out = append(out, item.Interval)
		}
	}
	return out, nil
}

func (b *fakeBuffer) Acknowledge(_ context.Context, ids []string) error {
	for _, id := range ids {
		item := b.items[id]
		item.State = domain.StateAcknowledged
		b.items[id] = item
	}
	return nil
}

func (b *fakeBuffer) Drop(_ context.Context, ids []string) error {
	for _, id := range ids {
		delete(b.items, id)
	}
	return nil
}

func (b *fakeBuffer) All(context.Context) ([]domain.Buffered, error) { return b.sorted(), nil }

func (b *fakeBuffer) Stats(context.Context) (domain.BufferStats, error) {
	var s domain.BufferStats
	for _, item := range b.items {
		if item.State == domain.StatePending {
			s.Pending++
		} else {
			s.Acknowledged++
		}
	}
	return s, nil
}

func (b *fakeBuffer) sorted() []domain.Buffered {
	out := make([]domain.Buffered, 0, len(b.items))
	for _, item := range b.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartMs < out[j].StartMs })
	return out
}

type memoryAggregates map[string]domain.Aggregate

func (m memoryAggregates) Get(_ context.Context, u, d, h string) (domain.Aggregate, bool, error) {
	a, ok := m[u+d+h]
	return a, ok, nil
}

func (m memoryAggregates) Save(_ context.Context, a domain.Aggregate) error {
	m[a.UserID+a.LocalDate+a.Domain] = a
	return nil
}

func (m memoryAggregates) ListDay(_ context.Context, u, d string) ([]domain.Aggregate, error) {
	var out []domain.Aggregate
	for _, a := range m {
		if a.UserID == u && a.LocalDate == d {
			out = append(out, a)
		}
	}
	return out, nil
}

type otherCategory struct{}

func (otherCategory) Category(context.Context, string) (string, error) { return domain.CategoryOther, nil }

type seqIDs struct{ n int }

func (s *seqIDs) New() string {
	s.n++
	return fmt.Sprintf("id-%d", s.n)
}

func newInteractor(t *testing.T, now time.Time) (*Interactor, *fakeBuffer) {
	t.Helper()
	mClock := quartz.NewMock(t)
	mClock.Set(now).MustWait(context.Background())
	logger := slogtest.Make(t, &slogtest.Options{IgnoreErrors: true})
	limits := domain.Limits{MaxSession: (12 * time.Hour).Milliseconds(), MaxDaily: (24 * time.Hour).Milliseconds(), HistoryLimit: 10}
	buf := &fakeBuffer{minDuration: 2000, items: map[string]domain.Buffered{}}
	merger := service.NewMerger(memoryAggregates{}, otherCategory{}, tx.NoopManager{}, mClock, limits, logger)
	return NewInteractor(Options{
		UserID:     "u",
		Merger:     merger,
		Buffer:     buf,
		Categories: otherCategory{},
		IDs:        &seqIDs{},
		Clock:      mClock,
		Zone:       func(time.Time) (string, int) { return "EST", -300 },
		Logger:     logger,
	}), buf
}

func TestRecordBuffersThenMerges(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	interactor, buf := newInteractor(t, now)
	ctx := context.Background()

	start := now.Add(-time.Hour).UnixMilli()
	out, err := interactor.Record(ctx, dto.RecordInput{Domain: "example.com", StartMs: start, EndMs: start + 60_000})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !out.Stored || out.Aggregate.TotalTime != 60_000 || out.Aggregate.Timezone.OffsetMinutes != -300 {
		t.Fatalf("unexpected output %+v", out)
	}
	noise, err := interactor.Record(ctx, dto.RecordInput{Domain: "example.com", StartMs: start, EndMs: start + 1_000})
	if err != nil {
		t.Fatalf("record noise: %v", err)
	}
	if noise.Stored {
		t.Fatalf("noise must not be stored")
	}
	if len(buf.items) != 1 {
		t.Fatalf("expected one buffered interval, got %d", len(buf.items))
	}

	day, err := interactor.Today(ctx, dto.DayInput{})
	if err != nil {
		t.Fatalf("today: %v", err)
	}
	if day.LocalDate != "2024-01-01" || day.TotalTime != 60_000 {
		t.Fatalf("unexpected day %+v", day)
	}
}

func TestRecordHonoursExplicitOffset(t *testing.T) {
	t.Parallel()
	interactor, _ := newInteractor(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	start := time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC).UnixMilli()
	offset := 330
	out, err := interactor.Record(context.Background(), dto.RecordInput{Domain: "example.com", StartMs: start, EndMs: start + 10_000, OffsetMinutes: &offset, TimezoneName: "IST"})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if out.Aggregate.LocalDate != "2024-01-02" || out.Aggregate.Timezone.Name != "IST" {
		t.Fatalf("unexpected aggregate %+v", out.Aggregate)
	}
}

func TestReconcileUsesLocalUser(t *testing.T) {
	t.Parallel()
	interactor, _ := newInteractor(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	got, err := interactor.Reconcile(context.Background(), domain.Aggregate{UserID: "server-side-id", LocalDate: "2024-01-01", Domain: "example.com", TotalTime: 5000})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if got.UserID != "u" || got.TotalTime != 5000 {
		t.Fatalf("unexpected aggregate %+v", got)
	}
	buffer, err := interactor.Buffer(context.Background())
	if err != nil || buffer.Stats.Pending != 0 {
		t.Fatalf("unexpected buffer %+v (%v)", buffer, err)
	}
}
