package in

import (
	"context"

	"dwell/internal/modules/session/domain"
	"dwell/internal/modules/session/dto"
)

type Usecase interface {
	Start(ctx context.Context, input dto.StartInput) (dto.SessionOutput, error)
	Pause(ctx context.Context, input dto.PauseInput) (dto.SessionOutput, error)
	Resume(ctx context.Context) (dto.SessionOutput, error)
	Complete(ctx context.Context, input dto.CompleteInput) (dto.SessionOutput, error)
	Abandon(ctx context.Context, input dto.AbandonInput) (dto.SessionOutput, error)
	Active(ctx context.Context) (dto.SessionOutput, error)
	// CheckExpiry completes the active session if its planned time has
	// elapsed. expired reports whether it did.
	CheckExpiry(ctx context.Context) (out dto.SessionOutput, expired bool, err error)
	History(ctx context.Context, limit int) ([]dto.SessionOutput, error)
}

// SyncSource is the outbox view the dispatcher drains.
type SyncSource interface {
	PendingOps(ctx context.Context, limit int) ([]domain.Op, error)
	AckOps(ctx context.Context, seqs []int64) error
	AssignRemoteID(ctx context.Context, localID, sessionID string) error
	// ResolveConflict interrupts a session the server refused because the
	// user already has another active session, and discards its queued ops.
	ResolveConflict(ctx context.Context, localID string) (domain.Record, error)
}
