package dto

import (
	"time"

	"dwell/internal/modules/session/domain"
)

type StartInput struct {
	Type            string
	PlannedDuration time.Duration
}

type PauseInput struct {
	Reason string
}

type CompleteInput struct {
	Notes         string
	WasSuccessful bool
}

type AbandonInput struct {
	Reason      string
	Interrupted bool
}

type SessionOutput struct {
	domain.Record
	// Elapsed is active time so far, net of pauses.
	Elapsed   time.Duration
	Remaining time.Duration
}
