package service

import (
	"context"
	"errors"
	"fmt"

	"cdr.dev/slog/v3"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/xerrors"

	activity "dwell/internal/modules/activity/domain"
	"dwell/internal/modules/ledger/domain"
	"dwell/internal/modules/ledger/port/out"
	sessiondomain "dwell/internal/modules/session/domain"
	"dwell/internal/platform/clock"
	apperrors "dwell/internal/platform/errors"
	"dwell/internal/platform/id"
	"dwell/internal/platform/localday"
	"dwell/internal/platform/tx"
)

// AggregateInput is one upsert: spans of a single (local day, domain).
type AggregateInput struct {
	LocalDate string
	Domain    string
	Category  string
	Timezone  activity.Timezone
	Spans     []activity.Span
}

type Options struct {
	Store      out.Store
	Tx         tx.Manager
	IDs        id.Generator
	Clock      clock.Clock
	Limits     activity.Limits
	Registerer prometheus.Registerer
	Logger     slog.Logger
}

// Ledger is the server of record. Aggregates from every device of a user
// merge additively, each span counted once.
type Ledger struct {
	store   out.Store
	tx      tx.Manager
	ids     id.Generator
	clock   clock.Clock
	limits  activity.Limits
	metrics *Metrics
	logger  slog.Logger
}

func New(opts Options) (*Ledger, error) {
	metrics, err := NewMetrics(opts.Registerer)
	if err != nil {
		return nil, xerrors.Errorf("register ledger metrics: %w", err)
	}
	txm := opts.Tx
	if txm == nil {
		txm = tx.NoopManager{}
	}
	return &Ledger{
		store:   opts.Store,
		tx:      txm,
		ids:     opts.IDs,
		clock:   opts.Clock,
		limits:  opts.Limits,
		metrics: metrics,
		logger:  opts.Logger.Named("ledger"),
	}, nil
}

// Upsert folds in.Spans into the user's aggregate and returns it with the
// number of spans applied. Spans seen before are skipped, durations are
// recomputed and clamped, and the total saturates at the daily cap.
func (l *Ledger) Upsert(ctx context.Context, userID string, in AggregateInput) (activity.Aggregate, int, error) {
	if err := checkLocalDate(in); err != nil {
		return activity.Aggregate{}, 0, err
	}
	now := clock.NowMillis(l.clock, "ledger", "upsert")
	logger := l.logger.With(slog.F("user_id", userID), slog.F("domain", in.Domain), slog.F("local_date", in.LocalDate))

	var (
		merged  activity.Aggregate
		applied int
	)
	err := l.tx.Within(ctx, func(ctx context.Context) error {
		applied = 0
		agg, found, err := l.store.GetAggregate(ctx, userID, in.LocalDate, in.Domain)
		if err != nil {
			return xerrors.Errorf("load aggregate: %w", err)
		}
		if !found {
			agg = activity.Aggregate{UserID: userID, LocalDate: in.LocalDate, Domain: in.Domain, Category: activity.CategoryOther}
		}
		if in.Category != "" {
			agg.Category = in.Category
		}
		agg.Timezone = in.Timezone

		for _, span := range in.Spans {
			fresh, err := l.store.Claim(ctx, domain.Receipt{UserID: userID, Domain: in.Domain, StartMs: span.StartMs, EndMs: span.EndMs}, now)
			if err != nil {
				return xerrors.Errorf("claim receipt: %w", err)
			}
			if !fresh {
				l.metrics.spans.WithLabelValues(SpanDuplicate).Inc()
				continue
			}
			normalized, corrections, err := activity.Normalize(activity.Interval{
				Domain: in.Domain, StartMs: span.StartMs, EndMs: span.EndMs, Duration: span.Duration,
			}, l.limits.MaxSession)
			if err != nil {
				return err
			}
			for _, c := range corrections {
				if c == activity.CorrectionClamped {
					l.metrics.spans.WithLabelValues(SpanClamped).Inc()
				}
			}
			var outcome activity.Outcome
			agg, outcome = agg.Apply(normalized.Span(), l.limits)
			if outcome.Saturated {
				l.metrics.spans.WithLabelValues(SpanSaturated).Inc()
			}
			l.metrics.spans.WithLabelValues(SpanApplied).Inc()
			applied++
		}
		if applied == 0 && found {
			merged = agg
			return nil
		}
		agg.UpdatedAt = now
		if err := l.store.SaveAggregate(ctx, agg); err != nil {
			return xerrors.Errorf("save aggregate: %w", err)
		}
		if err := l.store.SetUserTimezone(ctx, userID, in.Timezone, now); err != nil {
			return xerrors.Errorf("remember timezone: %w", err)
		}
		merged = agg
		return nil
	})
	if err != nil {
		return activity.Aggregate{}, 0, err
	}
	logger.Debug(ctx, "aggregate upserted",
		slog.F("applied", applied),
		slog.F("duplicates", len(in.Spans)-applied),
		slog.F("total_time", merged.TotalTime),
	)
	return merged, applied, nil
}

// checkLocalDate rejects spans that do not start on the request's local day.
func checkLocalDate(in AggregateInput) error {
	var fields []apperrors.FieldError
	for i, span := range in.Spans {
		date, err := localday.LocalDate(span.StartMs, in.Timezone.OffsetMinutes)
		if err != nil {
			return err
		}
		if date != in.LocalDate {
			fields = append(fields, apperrors.FieldError{
				Field:  fmt.Sprintf("sessions[%d].startTime", i),
				Detail: fmt.Sprintf("falls on %s, not %s", date, in.LocalDate),
			})
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return &apperrors.ValidationError{
		Status:  400,
		Code:    apperrors.CodeValidationFailed,
		Message: "spans outside the local date",
		Fields:  fields,
	}
}

// CreateSession stores record for userID. A known client session id returns
// the existing session, brought up to date with record. A new non-terminal
// session is refused while another one holds the user.
func (l *Ledger) CreateSession(ctx context.Context, userID string, record sessiondomain.Record) (domain.Session, bool, error) {
	now := clock.NowMillis(l.clock, "ledger", "session")
	var (
		result  domain.Session
		created bool
	)
	err := l.tx.Within(ctx, func(ctx context.Context) error {
		existing, err := l.store.SessionByClientID(ctx, userID, record.LocalID)
		switch {
		case err == nil:
			next, changed, err := existing.Apply(domain.PatchFrom(record), now)
			if err != nil {
				return err
			}
			if changed {
				if err := l.store.SaveSession(ctx, next); err != nil {
					return xerrors.Errorf("save session: %w", err)
				}
			}
			result = next
			return nil
		case !errors.Is(err, apperrors.ErrNotFound):
			return xerrors.Errorf("lookup client session: %w", err)
		}

		if !record.Status.Terminal() {
			holding, err := l.store.Holding(ctx, userID)
			if err != nil {
				return xerrors.Errorf("list holding sessions: %w", err)
			}
			for _, h := range holding {
				if h.Record.LocalID != record.LocalID {
					return xerrors.Errorf("session %s is %s: %w", h.ID, h.Record.Status, apperrors.ErrActiveSessionExists)
				}
			}
		}
		s := domain.Session{ID: l.ids.New(), UserID: userID, Record: record, CreatedAt: now}
		s.Record.SessionID = s.ID
		s.Record.UpdatedAt = now
		if err := l.store.SaveSession(ctx, s); err != nil {
			return xerrors.Errorf("save session: %w", err)
		}
		result, created = s, true
		return nil
	})
	l.countSession("create", err)
	if err != nil {
		return domain.Session{}, false, err
	}
	if created {
		l.logger.Info(ctx, "session created",
			slog.F("user_id", userID),
			slog.F("session_id", result.ID),
			slog.F("client_session_id", record.LocalID),
			slog.F("status", record.Status),
		)
	}
	return result, created, nil
}

func (l *Ledger) UpdateSession(ctx context.Context, userID, sessionID string, p domain.Patch) (domain.Session, error) {
	now := clock.NowMillis(l.clock, "ledger", "session")
	var result domain.Session
	err := l.tx.Within(ctx, func(ctx context.Context) error {
		current, err := l.store.GetSession(ctx, userID, sessionID)
		if err != nil {
			return err
		}
		next, changed, err := current.Apply(p, now)
		if err != nil {
			return err
		}
		if changed {
			if err := l.store.SaveSession(ctx, next); err != nil {
				return xerrors.Errorf("save session: %w", err)
			}
		}
		result = next
		return nil
	})
	l.countSession("update", err)
	if err != nil {
		return domain.Session{}, err
	}
	return result, nil
}

func (l *Ledger) countSession(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrActiveSessionExists):
		result = "conflict"
	case errors.Is(err, apperrors.ErrInvalidSessionState):
		result = "invalid_state"
	case errors.Is(err, apperrors.ErrNotFound):
		result = "not_found"
	default:
		result = "error"
	}
	l.metrics.sessions.WithLabelValues(op, result).Inc()
}

// Day returns the sessions and aggregates of one local day. The timezone is
// the user's last reported one when useUser is set and known, else offset,
// else UTC.
func (l *Ledger) Day(ctx context.Context, userID, localDate string, offset *int, useUser bool) (domain.Day, error) {
	tz := activity.Timezone{Name: "UTC"}
	if offset != nil {
		if err := localday.ValidateOffset(*offset); err != nil {
			return domain.Day{}, err
		}
		tz = activity.Timezone{OffsetMinutes: *offset}
	}
	if useUser {
		remembered, err := l.store.UserTimezone(ctx, userID)
		switch {
		case err == nil:
			tz = remembered
		case !errors.Is(err, apperrors.ErrNotFound):
			return domain.Day{}, xerrors.Errorf("load user timezone: %w", err)
		}
	}
	if localDate == "" {
		today, err := localday.LocalDate(clock.NowMillis(l.clock, "ledger", "day"), tz.OffsetMinutes)
		if err != nil {
			return domain.Day{}, err
		}
		localDate = today
	}
	start, end, err := localday.DayBounds(localDate, tz.OffsetMinutes)
	if err != nil {
		return domain.Day{}, err
	}
	sessions, err := l.store.ListRange(ctx, userID, start, end)
	if err != nil {
		return domain.Day{}, xerrors.Errorf("list sessions: %w", err)
	}
	aggregates, err := l.store.ListDay(ctx, userID, localDate)
	if err != nil {
		return domain.Day{}, xerrors.Errorf("list aggregates: %w", err)
	}
	return domain.Day{
		UserID:     userID,
		LocalDate:  localDate,
		Timezone:   tz,
		Sessions:   sessions,
		Aggregates: aggregates,
	}, nil
}
