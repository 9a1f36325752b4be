package service

import (
	"context"
	"sort"
	"sync"

	activity "dwell/internal/modules/activity/domain"
	ledgerdto "dwell/internal/modules/ledger/dto"
	sessiondomain "dwell/internal/modules/session/domain"
	apperrors "dwell/internal/platform/errors"
)

type fakeIntervals struct {
	mu         sync.Mutex
	items      []activity.Buffered
	dropped    []string
	reconciled []activity.Aggregate
}

func (f *fakeIntervals) add(items ...activity.Interval) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, in := range items {
		f.items = append(f.items, activity.Buffered{Interval: in, State: activity.StatePending})
	}
}

func (f *fakeIntervals) addAcked(items ...activity.Interval) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, in := range items {
		f.items = append(f.items, activity.Buffered{Interval: in, State: activity.StateAcknowledged, AckedAt: in.EndMs})
	}
}

func (f *fakeIntervals) Pending(_ context.Context, limit int) ([]activity.Interval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []activity.Interval
	for _, item := range f.items {
		if item.State == activity.StatePending {
			out = append(out, item.Interval)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartMs < out[j].StartMs })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeIntervals) Recovery(context.Context) ([]activity.Buffered, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]activity.Buffered(nil), f.items...), nil
}

func (f *fakeIntervals) Acknowledge(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := toSet(ids)
	for i := range f.items {
		if set[f.items[i].ID] {
			f.items[i].State = activity.StateAcknowledged
		}
	}
	return nil
}

func (f *fakeIntervals) Drop(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := toSet(ids)
	kept := f.items[:0]
	for _, item := range f.items {
		if set[item.ID] {
			f.dropped = append(f.dropped, item.ID)
			continue
		}
		kept = append(kept, item)
	}
	f.items = kept
	return nil
}

func (*fakeIntervals) Category(_ context.Context, domainName string) (string, error) {
	if domainName == "github.com" {
		return "development", nil
	}
	return activity.CategoryOther, nil
}

func (f *fakeIntervals) Reconcile(_ context.Context, remote activity.Aggregate) (activity.Aggregate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciled = append(f.reconciled, remote)
	return remote, nil
}

func (f *fakeIntervals) pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, item := range f.items {
		if item.State == activity.StatePending {
			n++
		}
	}
	return n
}

type fakeSessions struct {
	mu       sync.Mutex
	records  map[string]sessiondomain.Record
	ops      []sessiondomain.Op
	seq      int64
	resolved []string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{records: map[string]sessiondomain.Record{}}
}

func (f *fakeSessions) push(kind sessiondomain.OpKind, record sessiondomain.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.records[record.LocalID]; ok {
		record.SessionID = existing.SessionID
	}
	f.records[record.LocalID] = record
	f.seq++
	f.ops = append(f.ops, sessiondomain.Op{Seq: f.seq, LocalID: record.LocalID, Kind: kind, Snapshot: record})
}

func (f *fakeSessions) PendingOps(_ context.Context, limit int) ([]sessiondomain.Op, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]sessiondomain.Op(nil), f.ops...)
	if len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Snapshot.SessionID = f.records[out[i].LocalID].SessionID
	}
	return out, nil
}

func (f *fakeSessions) AckOps(_ context.Context, seqs []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	acked := map[int64]bool{}
	for _, s := range seqs {
		acked[s] = true
	}
	kept := f.ops[:0]
	for _, op := range f.ops {
		if !acked[op.Seq] {
			kept = append(kept, op)
		}
	}
	f.ops = kept
	return nil
}

func (f *fakeSessions) AssignRemoteID(_ context.Context, localID, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[localID]
	if !ok {
		return apperrors.ErrNotFound
	}
	r.SessionID = sessionID
	f.records[localID] = r
	return nil
}

func (f *fakeSessions) ResolveConflict(_ context.Context, localID string) (sessiondomain.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.records[localID]
	r, err := r.ForceInterrupt(r.StartTime+1000, apperrors.CodeActiveSessionExists)
	if err != nil {
		return r, err
	}
	f.records[localID] = r
	f.resolved = append(f.resolved, localID)
	kept := f.ops[:0]
	for _, op := range f.ops {
		if op.LocalID != localID {
			kept = append(kept, op)
		}
	}
	f.ops = kept
	return r, nil
}

func (f *fakeSessions) pendingOps() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ops)
}

type patchCall struct {
	SessionID string
	Patch     ledgerdto.SessionPatch
}

// fakeRemote is an in-memory server of record. Hooks return an error to
// fail a call.
type fakeRemote struct {
	mu      sync.Mutex
	upserts []ledgerdto.AggregateRequest
	creates []ledgerdto.SessionRequest
	patches []patchCall
	totals  map[string]int64

	upsertHook func(ledgerdto.AggregateRequest) error
	createHook func(ledgerdto.SessionRequest) error
	// gate, when set, blocks upserts until closed. entered is signalled
	// first.
	gate    chan struct{}
	entered chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{totals: map[string]int64{}}
}

func (f *fakeRemote) UpsertAggregate(ctx context.Context, req ledgerdto.AggregateRequest) (ledgerdto.AggregateResponse, error) {
	if f.gate != nil {
		f.entered <- struct{}{}
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ledgerdto.AggregateResponse{}, &apperrors.TransportError{Err: ctx.Err()}
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, req)
	if f.upsertHook != nil {
		if err := f.upsertHook(req); err != nil {
			return ledgerdto.AggregateResponse{}, err
		}
	}
	key := req.LocalDate + "|" + req.Domain
	for _, s := range req.Sessions {
		f.totals[key] += s.EndTime - s.StartTime
	}
	return ledgerdto.AggregateResponse{
		UserID:    req.UserID,
		LocalDate: req.LocalDate,
		Domain:    req.Domain,
		Category:  req.Category,
		TotalTime: f.totals[key],
		Timezone:  req.Timezone,
		Applied:   len(req.Sessions),
	}, nil
}

func (f *fakeRemote) CreateSession(_ context.Context, req ledgerdto.SessionRequest) (ledgerdto.SessionCreated, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, req)
	if f.createHook != nil {
		if err := f.createHook(req); err != nil {
			return ledgerdto.SessionCreated{}, err
		}
	}
	return ledgerdto.SessionCreated{SessionID: "srv-" + req.ClientSessionID, Status: req.Status}, nil
}

func (f *fakeRemote) UpdateSession(_ context.Context, sessionID string, patch ledgerdto.SessionPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, patchCall{SessionID: sessionID, Patch: patch})
	return nil
}

func (f *fakeRemote) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.upserts)
}

func (f *fakeRemote) total(localDate, host string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.totals[localDate+"|"+host]
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
