package usecase

import (
	"context"
	"time"

	"dwell/internal/modules/session/domain"
	"dwell/internal/modules/session/dto"
	"dwell/internal/modules/session/service"
)

type Interactor struct {
	lifecycle *service.Lifecycle
}

func NewInteractor(lifecycle *service.Lifecycle) *Interactor {
	return &Interactor{lifecycle: lifecycle}
}

func (i *Interactor) Start(ctx context.Context, input dto.StartInput) (dto.SessionOutput, error) {
	record, err := i.lifecycle.Start(ctx, domain.Type(input.Type), input.PlannedDuration)
	if err != nil {
		return dto.SessionOutput{}, err
	}
	return i.output(record), nil
}

func (i *Interactor) Pause(ctx context.Context, input dto.PauseInput) (dto.SessionOutput, error) {
	record, err := i.lifecycle.Pause(ctx, input.Reason)
	if err != nil {
		return dto.SessionOutput{}, err
	}
	return i.output(record), nil
}

func (i *Interactor) Resume(ctx context.Context) (dto.SessionOutput, error) {
	record, err := i.lifecycle.Resume(ctx)
	if err != nil {
		return dto.SessionOutput{}, err
	}
	return i.output(record), nil
}

func (i *Interactor) Complete(ctx context.Context, input dto.CompleteInput) (dto.SessionOutput, error) {
	record, err := i.lifecycle.Complete(ctx, input.Notes, input.WasSuccessful)
	if err != nil {
		return dto.SessionOutput{}, err
	}
	return i.output(record), nil
}

func (i *Interactor) Abandon(ctx context.Context, input dto.AbandonInput) (dto.SessionOutput, error) {
	record, err := i.lifecycle.Abandon(ctx, input.Reason, input.Interrupted)
	if err != nil {
		return dto.SessionOutput{}, err
	}
	return i.output(record), nil
}

func (i *Interactor) Active(ctx context.Context) (dto.SessionOutput, error) {
	record, err := i.lifecycle.Active(ctx)
	if err != nil {
		return dto.SessionOutput{}, err
	}
	return i.output(record), nil
}

func (i *Interactor) CheckExpiry(ctx context.Context) (dto.SessionOutput, bool, error) {
	record, expired, err := i.lifecycle.CheckExpiry(ctx)
	if err != nil || record.LocalID == "" {
		return dto.SessionOutput{}, expired, err
	}
	return i.output(record), expired, nil
}

func (i *Interactor) History(ctx context.Context, limit int) ([]dto.SessionOutput, error) {
	if limit <= 0 {
		limit = 20
	}
	records, err := i.lifecycle.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]dto.SessionOutput, 0, len(records))
	for _, r := range records {
		out = append(out, i.output(r))
	}
	return out, nil
}

func (i *Interactor) PendingOps(ctx context.Context, limit int) ([]domain.Op, error) {
	return i.lifecycle.PendingOps(ctx, limit)
}

func (i *Interactor) AckOps(ctx context.Context, seqs []int64) error {
	return i.lifecycle.AckOps(ctx, seqs)
}

func (i *Interactor) AssignRemoteID(ctx context.Context, localID, sessionID string) error {
	return i.lifecycle.AssignRemoteID(ctx, localID, sessionID)
}

func (i *Interactor) ResolveConflict(ctx context.Context, localID string) (domain.Record, error) {
	return i.lifecycle.ResolveConflict(ctx, localID)
}

func (i *Interactor) output(record domain.Record) dto.SessionOutput {
	now := i.lifecycle.Now()
	elapsed := record.ActiveElapsed(now)
	out := dto.SessionOutput{Record: record, Elapsed: time.Duration(elapsed) * time.Millisecond}
	if !record.Status.Terminal() && elapsed < record.PlannedDuration {
		out.Remaining = time.Duration(record.PlannedDuration-elapsed) * time.Millisecond
	}
	return out
}
