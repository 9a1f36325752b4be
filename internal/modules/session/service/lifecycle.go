package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"golang.org/x/xerrors"

	"dwell/internal/modules/session/domain"
	sessionout "dwell/internal/modules/session/port/out"
	"dwell/internal/platform/clock"
	apperrors "dwell/internal/platform/errors"
	"dwell/internal/platform/id"
	"dwell/internal/platform/tx"
)

// Lifecycle is the single writer of session records. Every accepted
// transition is persisted together with an outbox op.
type Lifecycle struct {
	clock   clock.Clock
	ids     id.Generator
	records sessionout.RecordStore
	active  sessionout.ActiveSessionStore
	ops     sessionout.OpStore
	tx      tx.Manager
	logger  slog.Logger

	mu sync.Mutex
}

func NewLifecycle(clk clock.Clock, ids id.Generator, records sessionout.RecordStore, active sessionout.ActiveSessionStore, ops sessionout.OpStore, txm tx.Manager, logger slog.Logger) *Lifecycle {
	if txm == nil {
		txm = tx.NoopManager{}
	}
	return &Lifecycle{
		clock:   clk,
		ids:     ids,
		records: records,
		active:  active,
		ops:     ops,
		tx:      txm,
		logger:  logger.Named("lifecycle"),
	}
}

func (l *Lifecycle) now(tags ...string) int64 {
	return clock.NowMillis(l.clock, append([]string{"lifecycle"}, tags...)...)
}

func (l *Lifecycle) Start(ctx context.Context, sessionType domain.Type, planned time.Duration) (domain.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, err := l.loadActive(ctx)
	switch {
	case err == nil && !current.Status.Terminal():
		return domain.Record{}, xerrors.Errorf("session %s is %s: %w", current.LocalID, current.Status, apperrors.ErrActiveSessionExists)
	case err != nil && !errors.Is(err, apperrors.ErrNoActiveSession):
		return domain.Record{}, err
	}

	now := l.now("start")
	record, err := domain.Start(l.ids.New(), sessionType, planned.Milliseconds(), now)
	if err != nil {
		return domain.Record{}, err
	}
	if err := l.persist(ctx, record, domain.OpCreate, now); err != nil {
		return domain.Record{}, err
	}
	if err := l.active.SaveActive(ctx, record.LocalID); err != nil {
		return domain.Record{}, xerrors.Errorf("save active pointer: %w", err)
	}
	l.logger.Info(ctx, "session started",
		slog.F("local_id", record.LocalID),
		slog.F("type", record.Type),
		slog.F("planned_ms", record.PlannedDuration),
	)
	return record, nil
}

func (l *Lifecycle) Pause(ctx context.Context, reason string) (domain.Record, error) {
	return l.mutate(ctx, "pause", func(r domain.Record, now int64) (domain.Record, error) {
		return r.Pause(now, reason)
	})
}

func (l *Lifecycle) Resume(ctx context.Context) (domain.Record, error) {
	return l.mutate(ctx, "resume", func(r domain.Record, now int64) (domain.Record, error) {
		return r.Resume(now)
	})
}

func (l *Lifecycle) Complete(ctx context.Context, notes string, wasSuccessful bool) (domain.Record, error) {
	return l.mutate(ctx, "complete", func(r domain.Record, now int64) (domain.Record, error) {
		return r.Complete(now, notes, wasSuccessful)
	})
}

func (l *Lifecycle) Abandon(ctx context.Context, reason string, interrupted bool) (domain.Record, error) {
	return l.mutate(ctx, "abandon", func(r domain.Record, now int64) (domain.Record, error) {
		return r.Abandon(now, reason, interrupted)
	})
}

// CheckExpiry completes the active session once its planned active time has
// elapsed. It compares wall-clock instants, so a process that slept through
// the deadline still completes the session on its next check, ending it at
// the deadline rather than at wake-up.
func (l *Lifecycle) CheckExpiry(ctx context.Context) (domain.Record, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, err := l.loadActive(ctx)
	if errors.Is(err, apperrors.ErrNoActiveSession) {
		return domain.Record{}, false, nil
	}
	if err != nil {
		return domain.Record{}, false, err
	}
	now := l.now("expiry")
	if !current.Expired(now) {
		return current, false, nil
	}
	deadline := current.ExpiresAt()
	next, err := current.Complete(deadline, current.Notes, true)
	if err != nil {
		return current, false, err
	}
	next.UpdatedAt = now
	if err := l.persist(ctx, next, domain.OpUpdate, now); err != nil {
		return current, false, err
	}
	if err := l.active.ClearActive(ctx); err != nil {
		return next, true, xerrors.Errorf("clear active pointer: %w", err)
	}
	l.logger.Info(ctx, "session expired",
		slog.F("local_id", next.LocalID),
		slog.F("late_by_ms", now-deadline),
		slog.F("duration_ms", next.Duration),
	)
	return next, true, nil
}

// RunExpiry checks for expiry every interval until ctx is done.
func (l *Lifecycle) RunExpiry(ctx context.Context, every time.Duration) error {
	waiter := l.clock.TickerFunc(ctx, every, func() error {
		if _, _, err := l.CheckExpiry(ctx); err != nil {
			l.logger.Warn(ctx, "check expiry", slog.Error(err))
		}
		return nil
	}, "lifecycle", "expiry")
	err := waiter.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (l *Lifecycle) Active(ctx context.Context) (domain.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadActive(ctx)
}

func (l *Lifecycle) Recent(ctx context.Context, limit int) ([]domain.Record, error) {
	return l.records.Recent(ctx, limit)
}

func (l *Lifecycle) Now() int64 { return l.now("read") }

// PendingOps returns queued ops with the remote id filled in from the
// current record, so ops queued before the create was acknowledged can be
// addressed by id once it is.
func (l *Lifecycle) PendingOps(ctx context.Context, limit int) ([]domain.Op, error) {
	ops, err := l.ops.Pending(ctx, limit)
	if err != nil {
		return nil, err
	}
	remote := map[string]string{}
	for i, op := range ops {
		sessionID, ok := remote[op.LocalID]
		if !ok {
			record, err := l.records.Get(ctx, op.LocalID)
			if err != nil {
				return nil, err
			}
			sessionID = record.SessionID
			remote[op.LocalID] = sessionID
		}
		ops[i].Snapshot.SessionID = sessionID
	}
	return ops, nil
}

func (l *Lifecycle) AckOps(ctx context.Context, seqs []int64) error {
	return l.ops.Ack(ctx, seqs)
}

func (l *Lifecycle) AssignRemoteID(ctx context.Context, localID, sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tx.Within(ctx, func(ctx context.Context) error {
		record, err := l.records.Get(ctx, localID)
		if err != nil {
			return err
		}
		if record.SessionID == sessionID {
			return nil
		}
		record.SessionID = sessionID
		return l.records.Save(ctx, record)
	})
}

func (l *Lifecycle) ResolveConflict(ctx context.Context, localID string) (domain.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now("conflict")
	var result domain.Record
	err := l.tx.Within(ctx, func(ctx context.Context) error {
		record, err := l.records.Get(ctx, localID)
		if err != nil {
			return err
		}
		if !record.Status.Terminal() {
			record, err = record.ForceInterrupt(now, apperrors.CodeActiveSessionExists)
			if err != nil {
				return err
			}
			if err := l.records.Save(ctx, record); err != nil {
				return err
			}
		}
		result = record
		return l.ops.DiscardSession(ctx, localID)
	})
	if err != nil {
		return domain.Record{}, err
	}
	if activeID, err := l.active.LoadActive(ctx); err == nil && activeID == localID {
		if err := l.active.ClearActive(ctx); err != nil {
			return result, xerrors.Errorf("clear active pointer: %w", err)
		}
	}
	l.logger.Warn(ctx, "session rejected by server, another session is active",
		slog.F("local_id", localID),
	)
	return result, nil
}

func (l *Lifecycle) mutate(ctx context.Context, op string, fn func(domain.Record, int64) (domain.Record, error)) (domain.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, err := l.loadPointed(ctx)
	if err != nil {
		return domain.Record{}, err
	}
	if current.Status.Terminal() {
		return current, xerrors.Errorf("%s session %s: already %s: %w", op, current.LocalID, current.Status, apperrors.ErrInvalidSessionState)
	}
	now := l.now(op)
	next, err := fn(current, now)
	if err != nil {
		return current, err
	}
	if err := l.persist(ctx, next, domain.OpUpdate, now); err != nil {
		return current, err
	}
	if next.Status.Terminal() {
		if err := l.active.ClearActive(ctx); err != nil {
			return next, xerrors.Errorf("clear active pointer: %w", err)
		}
	}
	l.logger.Info(ctx, "session "+op,
		slog.F("local_id", next.LocalID),
		slog.F("status", next.Status),
		slog.F("paused_ms", next.PausedDuration),
	)
	return next, nil
}

func (l *Lifecycle) persist(ctx context.Context, record domain.Record, kind domain.OpKind, now int64) error {
	return l.tx.Within(ctx, func(ctx context.Context) error {
		if err := l.records.Save(ctx, record); err != nil {
			return xerrors.Errorf("save session: %w", err)
		}
		if err := l.ops.Enqueue(ctx, domain.Op{LocalID: record.LocalID, Kind: kind, Snapshot: record, CreatedAt: now}); err != nil {
			return xerrors.Errorf("enqueue session op: %w", err)
		}
		return nil
	})
}

// loadActive resolves the active pointer. A pointer to a terminal record is
// treated as no active session.
func (l *Lifecycle) loadActive(ctx context.Context) (domain.Record, error) {
	record, err := l.loadPointed(ctx)
	if err != nil {
		return domain.Record{}, err
	}
	if record.Status.Terminal() {
		return domain.Record{}, apperrors.ErrNoActiveSession
	}
	return record, nil
}

// loadPointed returns whatever record the active pointer names, terminal or
// not.
func (l *Lifecycle) loadPointed(ctx context.Context) (domain.Record, error) {
	localID, err := l.active.LoadActive(ctx)
	if err != nil {
		return domain.Record{}, err
	}
	record, err := l.records.Get(ctx, localID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return domain.Record{}, apperrors.ErrNoActiveSession
	}
	if err != nil {
		return domain.Record{}, err
	}
	return record, nil
}
