package service

import (
	"context"

	"cdr.dev/slog/v3"
	"golang.org/x/xerrors"

	"dwell/internal/modules/activity/domain"
	"dwell/internal/modules/activity/port/out"
	"dwell/internal/platform/clock"
	"dwell/internal/platform/localday"
	"dwell/internal/platform/tx"
)

// Merger folds intervals into per-day per-domain aggregates.
type Merger struct {
	store      out.AggregateStore
	categories out.CategoryStore
	tx         tx.Manager
	clock      clock.Clock
	limits     domain.Limits
	logger     slog.Logger
}

func NewMerger(store out.AggregateStore, categories out.CategoryStore, txm tx.Manager, clk clock.Clock, limits domain.Limits, logger slog.Logger) *Merger {
	if txm == nil {
		txm = tx.NoopManager{}
	}
	return &Merger{
		store:      store,
		categories: categories,
		tx:         txm,
		clock:      clk,
		limits:     limits,
		logger:     logger.Named("merger"),
	}
}

func (m *Merger) Limits() domain.Limits { return m.limits }

// Merge applies one interval to its aggregate and persists the result.
func (m *Merger) Merge(ctx context.Context, userID string, interval domain.Interval) (domain.Aggregate, error) {
	localDate, err := localday.LocalDate(interval.StartMs, interval.OffsetMinutes)
	if err != nil {
		return domain.Aggregate{}, err
	}
	normalized, corrections, err := domain.Normalize(interval, m.limits.MaxSession)
	if err != nil {
		return domain.Aggregate{}, err
	}
	for _, c := range corrections {
		m.logger.Warn(ctx, "corrected interval",
			slog.F("interval_id", interval.ID),
			slog.F("domain", interval.Domain),
			slog.F("correction", string(c)),
			slog.F("duration_before", interval.Duration),
			slog.F("duration_after", normalized.Duration),
		)
	}

	var merged domain.Aggregate
	err = m.tx.Within(ctx, func(ctx context.Context) error {
		current, found, err := m.store.Get(ctx, userID, localDate, normalized.Domain)
		if err != nil {
			return xerrors.Errorf("load aggregate: %w", err)
		}
		if !found {
			category, err := m.categories.Category(ctx, normalized.Domain)
			if err != nil {
				return xerrors.Errorf("resolve category: %w", err)
			}
			current = domain.Aggregate{
				UserID:    userID,
				LocalDate: localDate,
				Domain:    normalized.Domain,
				Category:  category,
			}
		}
		current.Timezone = domain.Timezone{Name: normalized.TimezoneName, OffsetMinutes: normalized.OffsetMinutes}

		next, outcome := current.Apply(normalized.Span(), m.limits)
		if outcome.Saturated {
			m.logger.Info(ctx, "daily cap reached, holding total at cap",
				slog.F("domain", normalized.Domain),
				slog.F("local_date", localDate),
				slog.F("dropped_ms", normalized.Duration-outcome.Added),
			)
		}
		next.UpdatedAt = clock.NowMillis(m.clock, "merger", "save")
		if err := m.store.Save(ctx, next); err != nil {
			return xerrors.Errorf("save aggregate: %w", err)
		}
		merged = next
		return nil
	})
	if err != nil {
		return domain.Aggregate{}, err
	}
	return merged, nil
}

// Reconcile raises the local aggregate to a remote total that is ahead of
// it. Local totals are never lowered.
func (m *Merger) Reconcile(ctx context.Context, remote domain.Aggregate) (domain.Aggregate, error) {
	var result domain.Aggregate
	err := m.tx.Within(ctx, func(ctx context.Context) error {
		current, found, err := m.store.Get(ctx, remote.UserID, remote.LocalDate, remote.Domain)
		if err != nil {
			return xerrors.Errorf("load aggregate: %w", err)
		}
		if !found {
			current = domain.Aggregate{
				UserID:    remote.UserID,
				LocalDate: remote.LocalDate,
				Domain:    remote.Domain,
				Category:  remote.Category,
				Timezone:  remote.Timezone,
			}
		}
		raised, changed := current.Raise(remote.TotalTime, m.limits.MaxDaily)
		if !changed && found {
			result = current
			return nil
		}
		if changed {
			m.logger.Debug(ctx, "raised local total from remote",
				slog.F("domain", remote.Domain),
				slog.F("local_date", remote.LocalDate),
				slog.F("local_total", current.TotalTime),
				slog.F("remote_total", remote.TotalTime),
			)
		}
		raised.UpdatedAt = clock.NowMillis(m.clock, "merger", "reconcile")
		if err := m.store.Save(ctx, raised); err != nil {
			return xerrors.Errorf("save aggregate: %w", err)
		}
		result = raised
		return nil
	})
	return result, err
}

func (m *Merger) Day(ctx context.Context, userID, localDate string) ([]domain.Aggregate, error) {
	if _, err := localday.ParseDate(localDate); err != nil {
		return nil, err
	}
	return m.store.ListDay(ctx, userID, localDate)
}
