package in

import (
	"context"

	"dwell/internal/modules/ledger/dto"
)

// DayQuery selects the day served by SessionDay. An empty LocalDate is
// today at the resolved timezone.
type DayQuery struct {
	LocalDate       string
	OffsetMinutes   *int
	UseUserTimezone bool
}

// Usecase is the ledger API. userID is the authenticated caller.
type Usecase interface {
	UpsertAggregate(ctx context.Context, userID string, req dto.AggregateRequest) (dto.AggregateResponse, error)
	// CreateSession reports created=false when clientSessionId was known.
	CreateSession(ctx context.Context, userID string, req dto.SessionRequest) (dto.SessionCreated, bool, error)
	UpdateSession(ctx context.Context, userID, sessionID string, patch dto.SessionPatch) error
	SessionDay(ctx context.Context, userID string, q DayQuery) (dto.SessionDay, error)
}
