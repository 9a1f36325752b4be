package usecase

import (
	"context"

	activity "dwell/internal/modules/activity/domain"
	"dwell/internal/modules/ledger/domain"
	"dwell/internal/modules/ledger/dto"
	ledgerin "dwell/internal/modules/ledger/port/in"
	"dwell/internal/modules/ledger/service"
	sessiondomain "dwell/internal/modules/session/domain"
	"dwell/internal/platform/localday"
)

type Interactor struct {
	ledger *service.Ledger
}

func NewInteractor(ledger *service.Ledger) *Interactor {
	return &Interactor{ledger: ledger}
}

var _ ledgerin.Usecase = (*Interactor)(nil)

func (i *Interactor) UpsertAggregate(ctx context.Context, userID string, req dto.AggregateRequest) (dto.AggregateResponse, error) {
	spans := make([]activity.Span, len(req.Sessions))
	for n, s := range req.Sessions {
		spans[n] = activity.Span{StartMs: s.StartTime, EndMs: s.EndTime, Duration: s.Duration}
	}
	agg, applied, err := i.ledger.Upsert(ctx, userID, service.AggregateInput{
		LocalDate: req.LocalDate,
		Domain:    req.Domain,
		Category:  req.Category,
		Timezone:  activity.Timezone{Name: req.Timezone.Name, OffsetMinutes: req.Timezone.OffsetMinutes},
		Spans:     spans,
	})
	if err != nil {
		return dto.AggregateResponse{}, err
	}
	resp := aggregateView(agg)
	resp.Applied = applied
	return resp, nil
}

func (i *Interactor) CreateSession(ctx context.Context, userID string, req dto.SessionRequest) (dto.SessionCreated, bool, error) {
	record := sessiondomain.Record{
		LocalID:         req.ClientSessionID,
		Type:            sessiondomain.Type(req.SessionType),
		PlannedDuration: req.PlannedDuration,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		Status:          sessiondomain.Status(req.Status),
		PausedDuration:  req.PausedDuration,
		PauseHistory:    pauseEntries(req.PauseHistory),
		Duration:        req.Duration,
		Notes:           req.Notes,
		WasSuccessful:   req.WasSuccessful,
		EndReason:       req.EndReason,
	}
	s, created, err := i.ledger.CreateSession(ctx, userID, record)
	if err != nil {
		return dto.SessionCreated{}, false, err
	}
	return dto.SessionCreated{SessionID: s.ID, Status: string(s.Record.Status)}, created, nil
}

func (i *Interactor) UpdateSession(ctx context.Context, userID, sessionID string, patch dto.SessionPatch) error {
	_, err := i.ledger.UpdateSession(ctx, userID, sessionID, domain.Patch{
		Status:         sessiondomain.Status(patch.Status),
		EndTime:        patch.EndTime,
		Duration:       patch.Duration,
		PausedDuration: patch.PausedDuration,
		PauseHistory:   pauseEntries(patch.PauseHistory),
		Notes:          patch.Notes,
		WasSuccessful:  patch.WasSuccessful,
		EndReason:      patch.EndReason,
	})
	return err
}

func (i *Interactor) SessionDay(ctx context.Context, userID string, q ledgerin.DayQuery) (dto.SessionDay, error) {
	day, err := i.ledger.Day(ctx, userID, q.LocalDate, q.OffsetMinutes, q.UseUserTimezone)
	if err != nil {
		return dto.SessionDay{}, err
	}
	out := dto.SessionDay{
		UserID:     day.UserID,
		LocalDate:  day.LocalDate,
		Timezone:   dto.Timezone{Name: day.Timezone.Name, OffsetMinutes: day.Timezone.OffsetMinutes},
		Sessions:   make([]dto.Session, 0, len(day.Sessions)),
		Aggregates: make([]dto.AggregateResponse, 0, len(day.Aggregates)),
		TotalTime:  day.TotalTime(),
	}
	for _, s := range day.Sessions {
		view := sessionView(s)
		view.LocalDate, _ = localday.LocalDate(s.Record.StartTime, day.Timezone.OffsetMinutes)
		out.Sessions = append(out.Sessions, view)
	}
	for _, agg := range day.Aggregates {
		out.Aggregates = append(out.Aggregates, aggregateView(agg))
	}
	return out, nil
}

func aggregateView(agg activity.Aggregate) dto.AggregateResponse {
	spans := make([]dto.Span, len(agg.Sessions))
	for n, s := range agg.Sessions {
		spans[n] = dto.Span{StartTime: s.StartMs, EndTime: s.EndMs, Duration: s.Duration}
	}
	return dto.AggregateResponse{
		UserID:    agg.UserID,
		LocalDate: agg.LocalDate,
		Domain:    agg.Domain,
		Category:  agg.Category,
		TotalTime: agg.TotalTime,
		Timezone:  dto.Timezone{Name: agg.Timezone.Name, OffsetMinutes: agg.Timezone.OffsetMinutes},
		Sessions:  spans,
		UpdatedAt: agg.UpdatedAt,
	}
}

func sessionView(s domain.Session) dto.Session {
	r := s.Record
	history := make([]dto.PauseEntry, len(r.PauseHistory))
	for n, e := range r.PauseHistory {
		history[n] = dto.PauseEntry{PausedAt: e.PausedAt, ResumedAt: e.ResumedAt, Reason: e.Reason}
	}
	return dto.Session{
		SessionID:       s.ID,
		ClientSessionID: r.LocalID,
		UserID:          s.UserID,
		SessionType:     string(r.Type),
		Status:          string(r.Status),
		PlannedDuration: r.PlannedDuration,
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
		Duration:        r.Duration,
		PausedDuration:  r.PausedDuration,
		PauseHistory:    history,
		Notes:           r.Notes,
		WasSuccessful:   r.WasSuccessful,
		EndReason:       r.EndReason,
		UpdatedAt:       r.UpdatedAt,
	}
}

func pauseEntries(in []dto.PauseEntry) []sessiondomain.PauseEntry {
	out := make([]sessiondomain.PauseEntry, len(in))
	for n, e := range in {
		out[n] = sessiondomain.PauseEntry{PausedAt: e.PausedAt, ResumedAt: e.ResumedAt, Reason: e.Reason}
	}
	return out
}
