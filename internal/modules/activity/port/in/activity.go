package in

import (
	"context"

	"dwell/internal/modules/activity/domain"
	"dwell/internal/modules/activity/dto"
)

type Usecase interface {
	Record(ctx context.Context, input dto.RecordInput) (dto.RecordOutput, error)
	RecordInterval(ctx context.Context, interval domain.Interval) error
	Today(ctx context.Context, input dto.DayInput) (dto.DayOutput, error)
	Buffer(ctx context.Context) (dto.BufferOutput, error)
}

// SyncSource is the view of the buffer and aggregates the dispatcher needs.
type SyncSource interface {
	Pending(ctx context.Context, limit int) ([]domain.Interval, error)
	Recovery(ctx context.Context) ([]domain.Buffered, error)
	Acknowledge(ctx context.Context, ids []string) error
	Drop(ctx context.Context, ids []string) error
	Category(ctx context.Context, domainName string) (string, error)
	Reconcile(ctx context.Context, remote domain.Aggregate) (domain.Aggregate, error)
}
