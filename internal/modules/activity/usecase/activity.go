package usecase

import (
	"context"
	"errors"
	"time"

	"cdr.dev/slog/v3"
	"golang.org/x/xerrors"

	"dwell/internal/modules/activity/domain"
	"dwell/internal/modules/activity/dto"
	"dwell/internal/modules/activity/port/out"
	"dwell/internal/modules/activity/service"
	"dwell/internal/platform/clock"
	apperrors "dwell/internal/platform/errors"
	"dwell/internal/platform/id"
	"dwell/internal/platform/localday"
)

type Options struct {
	UserID     string
	Merger     *service.Merger
	Buffer     out.EventBuffer
	Categories out.CategoryStore
	IDs        id.Generator
	Clock      clock.Clock
	Zone       service.ZoneFunc
	Logger     slog.Logger
}

// Interactor records intervals locally first: buffer, then aggregate.
type Interactor struct {
	userID     string
	merger     *service.Merger
	buffer     out.EventBuffer
	categories out.CategoryStore
	ids        id.Generator
	clock      clock.Clock
	zone       service.ZoneFunc
	logger     slog.Logger
}

func NewInteractor(opts Options) *Interactor {
	zone := opts.Zone
	if zone == nil {
		zone = func(time.Time) (string, int) { return "UTC", 0 }
	}
	return &Interactor{
		userID:     opts.UserID,
		merger:     opts.Merger,
		buffer:     opts.Buffer,
		categories: opts.Categories,
		ids:        opts.IDs,
		clock:      opts.Clock,
		zone:       zone,
		logger:     opts.Logger.Named("activity"),
	}
}

func (i *Interactor) Record(ctx context.Context, input dto.RecordInput) (dto.RecordOutput, error) {
	tzName, offset := i.zone(clock.FromMillis(input.StartMs))
	if input.OffsetMinutes != nil {
		offset = *input.OffsetMinutes
		tzName = input.TimezoneName
	}
	interval, err := domain.NewInterval(i.ids.New(), input.Domain, input.StartMs, input.EndMs, offset, tzName, clock.NowMillis(i.clock, "activity", "record"))
	if err != nil {
		return dto.RecordOutput{}, err
	}
	stored, aggregate, err := i.record(ctx, interval)
	if err != nil {
		return dto.RecordOutput{}, err
	}
	return dto.RecordOutput{IntervalID: interval.ID, Stored: stored, Aggregate: aggregate}, nil
}

func (i *Interactor) RecordInterval(ctx context.Context, interval domain.Interval) error {
	_, _, err := i.record(ctx, interval)
	return err
}

func (i *Interactor) record(ctx context.Context, interval domain.Interval) (bool, domain.Aggregate, error) {
	stored, err := i.buffer.Append(ctx, interval)
	if err != nil {
		return false, domain.Aggregate{}, xerrors.Errorf("buffer interval: %w", err)
	}
	if !stored {
		i.logger.Debug(ctx, "interval below noise threshold", slog.F("domain", interval.Domain), slog.F("duration_ms", interval.Duration))
		return false, domain.Aggregate{}, nil
	}
	aggregate, err := i.merger.Merge(ctx, i.userID, interval)
	if errors.Is(err, apperrors.ErrInvalidInterval) {
		i.logger.Warn(ctx, "dropping malformed interval", slog.F("interval_id", interval.ID), slog.Error(err))
		if dropErr := i.buffer.Drop(ctx, []string{interval.ID}); dropErr != nil {
			return false, domain.Aggregate{}, xerrors.Errorf("drop interval: %w", dropErr)
		}
		return false, domain.Aggregate{}, err
	}
	if err != nil {
		// The interval stays buffered and will still reach the server.
		return true, domain.Aggregate{}, xerrors.Errorf("merge interval: %w", err)
	}
	return true, aggregate, nil
}

func (i *Interactor) Today(ctx context.Context, input dto.DayInput) (dto.DayOutput, error) {
	date := input.LocalDate
	if date == "" {
		now := i.clock.Now("activity", "today")
		_, offset := i.zone(now)
		var err error
		date, err = localday.LocalDate(now.UnixMilli(), offset)
		if err != nil {
			return dto.DayOutput{}, err
		}
	}
	aggregates, err := i.merger.Day(ctx, i.userID, date)
	if err != nil {
		return dto.DayOutput{}, err
	}
	var total int64
	for _, a := range aggregates {
		total += a.TotalTime
	}
	return dto.DayOutput{LocalDate: date, Aggregates: aggregates, TotalTime: total}, nil
}

func (i *Interactor) Buffer(ctx context.Context) (dto.BufferOutput, error) {
	items, err := i.buffer.All(ctx)
	if err != nil {
		return dto.BufferOutput{}, err
	}
	stats, err := i.buffer.Stats(ctx)
	if err != nil {
		return dto.BufferOutput{}, err
	}
	return dto.BufferOutput{Items: items, Stats: stats}, nil
}

func (i *Interactor) Pending(ctx context.Context, limit int) ([]domain.Interval, error) {
	return i.buffer.Drain(ctx, limit)
}

func (i *Interactor) Recovery(ctx context.Context) ([]domain.Buffered, error) {
	return i.buffer.All(ctx)
}

func (i *Interactor) Acknowledge(ctx context.Context, ids []string) error {
	return i.buffer.Acknowledge(ctx, ids)
}

func (i *Interactor) Drop(ctx context.Context, ids []string) error {
	return i.buffer.Drop(ctx, ids)
}

func (i *Interactor) Category(ctx context.Context, domainName string) (string, error) {
	return i.categories.Category(ctx, domainName)
}

func (i *Interactor) Reconcile(ctx context.Context, remote domain.Aggregate) (domain.Aggregate, error) {
	remote.UserID = i.userID
	return i.merger.Reconcile(ctx, remote)
}
