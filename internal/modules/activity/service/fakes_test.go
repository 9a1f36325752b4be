package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"dwell/internal/modules/activity/domain"
)

type memoryAggregates struct {
	mu    sync.Mutex
	items map[string]domain.Aggregate
	saves int
}

func newMemoryAggregates() *memoryAggregates {
	return &memoryAggregates{items: map[string]domain.Aggregate{}}
}

func aggKey(user, date, host string) string { return user + "|" + date + "|" + host }

func (m *memoryAggregates) Get(_ context.Context, userID, localDate, domainName string) (domain.Aggregate, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agg, ok := m.items[aggKey(userID, localDate, domainName)]
	return agg, ok, nil
}

func (m *memoryAggregates) Save(_ context.Context, agg domain.Aggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.items[aggKey(agg.UserID, agg.LocalDate, agg.Domain)] = agg
	return nil
}

func (m *memoryAggregates) ListDay(_ context.Context, userID, localDate string) ([]domain.Aggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Aggregate
	for _, agg := range m.items {
		if agg.UserID == userID && agg.LocalDate == localDate {
			out = append(out, agg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out, nil
}

type staticCategories map[string]string

func (s staticCategories) Category(_ context.Context, domainName string) (string, error) {
	if c, ok := s[domainName]; ok {
		return c, nil
	}
	return domain.CategoryOther, nil
}

type recordedIntervals struct {
	mu    sync.Mutex
	items []domain.Interval
	err   error
}

func (r *recordedIntervals) RecordInterval(_ context.Context, in domain.Interval) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.items = append(r.items, in)
	return nil
}

func (r *recordedIntervals) snapshot() []domain.Interval {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Interval(nil), r.items...)
}

type fakeTabs struct {
	tab   domain.Tab
	err   error
	calls int
}

func (f *fakeTabs) ActiveTab(context.Context) (domain.Tab, error) {
	f.calls++
	return f.tab, f.err
}

type seqIDs struct{ n int }

func (s *seqIDs) New() string {
	s.n++
	return fmt.Sprintf("id-%d", s.n)
}
