package in

import (
	"context"

	"dwell/internal/modules/activity/dto"
	activityin "dwell/internal/modules/activity/port/in"
)

type CLIHandler struct {
	usecase activityin.Usecase
}

func NewCLIHandler(usecase activityin.Usecase) CLIHandler {
	return CLIHandler{usecase: usecase}
}

func (h CLIHandler) Record(ctx context.Context, domainName string, startMs, endMs int64, offset *int, tzName string) (dto.RecordOutput, error) {
	return h.usecase.Record(ctx, dto.RecordInput{Domain: domainName, StartMs: startMs, EndMs: endMs, OffsetMinutes: offset, TimezoneName: tzName})
}

func (h CLIHandler) Today(ctx context.Context, localDate string) (dto.DayOutput, error) {
	return h.usecase.Today(ctx, dto.DayInput{LocalDate: localDate})
}

func (h CLIHandler) Buffer(ctx context.Context) (dto.BufferOutput, error) {
	return h.usecase.Buffer(ctx)
}
