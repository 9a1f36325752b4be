package out

import (
	"context"

	"dwell/internal/modules/activity/domain"
)

// EventBuffer persists raw intervals until the remote store acknowledges
// them.
type EventBuffer interface {
	// Append stores the interval unless it is shorter than the noise
	// threshold, in which case stored is false.
	Append(ctx context.Context, interval domain.Interval) (stored bool, err error)
	// Drain returns up to limit pending intervals ordered by start without
	// removing them.
	Drain(ctx context.Context, limit int) ([]domain.Interval, error)
	Acknowledge(ctx context.Context, ids []string) error
	Drop(ctx context.Context, ids []string) error
	All(ctx context.Context) ([]domain.Buffered, error)
	Stats(ctx context.Context) (domain.BufferStats, error)
}

type AggregateStore interface {
	Get(ctx context.Context, userID, localDate, domainName string) (domain.Aggregate, bool, error)
	Save(ctx context.Context, aggregate domain.Aggregate) error
	ListDay(ctx context.Context, userID, localDate string) ([]domain.Aggregate, error)
}

// CategoryStore resolves a domain's category. Implementations may cache
// entries for a bounded TTL.
type CategoryStore interface {
	Category(ctx context.Context, domainName string) (string, error)
}

// Probe is the device-level signal source.
type Probe interface {
	ActiveTab(ctx context.Context) (domain.Tab, error)
	Poll(ctx context.Context) ([]domain.Signal, error)
	Close() error
}
