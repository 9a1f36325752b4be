package out

import (
	"context"

	activity "dwell/internal/modules/activity/domain"
	"dwell/internal/modules/ledger/domain"
)

type AggregateRepo interface {
	GetAggregate(ctx context.Context, userID, localDate, domainName string) (activity.Aggregate, bool, error)
	SaveAggregate(ctx context.Context, agg activity.Aggregate) error
	ListDay(ctx context.Context, userID, localDate string) ([]activity.Aggregate, error)
}

type ReceiptRepo interface {
	// Claim records r and reports false when it was already recorded.
	Claim(ctx context.Context, r domain.Receipt, appliedAt int64) (bool, error)
}

type SessionRepo interface {
	// GetSession returns apperrors.ErrNotFound for unknown ids and for sessions of
	// other users.
	GetSession(ctx context.Context, userID, sessionID string) (domain.Session, error)
	SessionByClientID(ctx context.Context, userID, clientSessionID string) (domain.Session, error)
	// Holding lists the user's non-terminal sessions.
	Holding(ctx context.Context, userID string) ([]domain.Session, error)
	SaveSession(ctx context.Context, s domain.Session) error
	// ListRange lists sessions that started in [startMs, endMs).
	ListRange(ctx context.Context, userID string, startMs, endMs int64) ([]domain.Session, error)
}

type TimezoneRepo interface {
	UserTimezone(ctx context.Context, userID string) (activity.Timezone, error)
	SetUserTimezone(ctx context.Context, userID string, tz activity.Timezone, at int64) error
}

type Store interface {
	AggregateRepo
	ReceiptRepo
	SessionRepo
	TimezoneRepo
}
