package dto

import "dwell/internal/modules/activity/domain"

type RecordInput struct {
	Domain  string
	StartMs int64
	EndMs   int64
	// Zero values fall back to the configured timezone.
	TimezoneName  string
	OffsetMinutes *int
}

type RecordOutput struct {
	IntervalID string
	Stored     bool
	Aggregate  domain.Aggregate
}

type DayInput struct {
	// Empty means the current local day.
	LocalDate string
}

type DayOutput struct {
	LocalDate  string
	Aggregates []domain.Aggregate
	TotalTime  int64
}

type BufferOutput struct {
	Items []domain.Buffered
	Stats domain.BufferStats
}

type (
	Aggregate  = domain.Aggregate
	Signal     = domain.Signal
	SignalKind = domain.SignalKind
	IdleState  = domain.IdleState
)
