package out

import (
	"context"

	"dwell/internal/modules/session/domain"
)

type RecordStore interface {
	Save(ctx context.Context, record domain.Record) error
	Get(ctx context.Context, localID string) (domain.Record, error)
	Recent(ctx context.Context, limit int) ([]domain.Record, error)
}

// ActiveSessionStore remembers which local session is current.
type ActiveSessionStore interface {
	SaveActive(ctx context.Context, localID string) error
	LoadActive(ctx context.Context) (string, error)
	ClearActive(ctx context.Context) error
}

// OpStore is the outbox of session mutations awaiting delivery.
type OpStore interface {
	Enqueue(ctx context.Context, op domain.Op) error
	Pending(ctx context.Context, limit int) ([]domain.Op, error)
	Ack(ctx context.Context, seqs []int64) error
	DiscardSession(ctx context.Context, localID string) error
}
