package in

import (
	"context"
	"time"

	sessiondto "dwell/internal/modules/session/dto"
	sessionin "dwell/internal/modules/session/port/in"
)

type CLIHandler struct {
	usecase sessionin.Usecase
}

func NewCLIHandler(usecase sessionin.Usecase) CLIHandler {
	return CLIHandler{usecase: usecase}
}

func (h CLIHandler) Start(ctx context.Context, sessionType string, planned time.Duration) (sessiondto.SessionOutput, error) {
	return h.usecase.Start(ctx, sessiondto.StartInput{Type: sessionType, PlannedDuration: planned})
}

func (h CLIHandler) Pause(ctx context.Context, reason string) (sessiondto.SessionOutput, error) {
	return h.usecase.Pause(ctx, sessiondto.PauseInput{Reason: reason})
}

func (h CLIHandler) Resume(ctx context.Context) (sessiondto.SessionOutput, error) {
	return h.usecase.Resume(ctx)
}

func (h CLIHandler) Complete(ctx context.Context, notes string, wasSuccessful bool) (sessiondto.SessionOutput, error) {
	return h.usecase.Complete(ctx, sessiondto.CompleteInput{Notes: notes, WasSuccessful: wasSuccessful})
}

func (h CLIHandler) Abandon(ctx context.Context, reason string, interrupted bool) (sessiondto.SessionOutput, error) {
	return h.usecase.Abandon(ctx, sessiondto.AbandonInput{Reason: reason, Interrupted: interrupted})
}

func (h CLIHandler) Active(ctx context.Context) (sessiondto.SessionOutput, error) {
	return h.usecase.Active(ctx)
}

func (h CLIHandler) History(ctx context.Context, limit int) ([]sessiondto.SessionOutput, error) {
	return h.usecase.History(ctx, limit)
}
