package service

import (
	"context"
	"sort"
	"sync"

	"dwell/internal/modules/session/domain"
	apperrors "dwell/internal/platform/errors"
)

type memoryStore struct {
	mu      sync.Mutex
	records map[string]domain.Record
	ops     []domain.Op
	seq     int64
	active  string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: map[string]domain.Record{}}
}

func (m *memoryStore) Save(_ context.Context, record domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.LocalID] = record
	return nil
}

func (m *memoryStore) Get(_ context.Context, localID string) (domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[localID]
	if !ok {
		return domain.Record{}, apperrors.ErrNotFound
	}
	return record, nil
}

func (m *memoryStore) Recent(_ context.Context, limit int) ([]domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime > out[j].StartTime })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) Enqueue(_ context.Context, op domain.Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	op.Seq = m.seq
	m.ops = append(m.ops, op)
	return nil
}

func (m *memoryStore) Pending(_ context.Context, limit int) ([]domain.Op, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]domain.Op(nil), m.ops...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) Ack(_ context.Context, seqs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acked := map[int64]bool{}
	for _, s := range seqs {
		acked[s] = true
	}
	kept := m.ops[:0]
	for _, op := range m.ops {
		if !acked[op.Seq] {
			kept = append(kept, op)
		}
	}
	m.ops = kept
	return nil
}

func (m *memoryStore) DiscardSession(_ context.Context, localID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.ops[:0]
	for _, op := range m.ops {
		if op.LocalID != localID {
			kept = append(kept, op)
		}
	}
	m.ops = kept
	return nil
}

func (m *memoryStore) SaveActive(_ context.Context, localID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = localID
	return nil
}

func (m *memoryStore) LoadActive(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == "" {
		return "", apperrors.ErrNoActiveSession
	}
	return m.active, nil
}

func (m *memoryStore) ClearActive(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = ""
	return nil
}

func (m *memoryStore) opKinds() []domain.OpKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.OpKind, 0, len(m.ops))
	for _, op := range m.ops {
		out = append(out, op.Kind)
	}
	return out
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) New() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return "local-" + string(rune('0'+s.n))
}
