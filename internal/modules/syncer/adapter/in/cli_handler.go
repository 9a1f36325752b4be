package in

import (
	"context"

	activitydto "dwell/internal/modules/activity/dto"
	"dwell/internal/modules/syncer/dto"
	syncerin "dwell/internal/modules/syncer/port/in"
)

type CLIHandler struct {
	usecase syncerin.Usecase
	control syncerin.DaemonControl
}

func NewCLIHandler(usecase syncerin.Usecase, control syncerin.DaemonControl) CLIHandler {
	return CLIHandler{usecase: usecase, control: control}
}

func (h CLIHandler) SyncNow(ctx context.Context) (dto.Result, error) {
	return h.usecase.SyncNow(ctx)
}

func (h CLIHandler) Status(ctx context.Context) (dto.DaemonStatus, error) {
	return h.usecase.Status(ctx)
}

func (h CLIHandler) DaemonStart(ctx context.Context) error {
	return h.control.Start(ctx)
}

func (h CLIHandler) DaemonStop(ctx context.Context) error {
	return h.control.Stop(ctx)
}

func (h CLIHandler) DaemonStatus(ctx context.Context) (dto.RuntimeStatus, error) {
	return h.control.RuntimeStatus(ctx)
}

func (h CLIHandler) Signal(ctx context.Context, sig activitydto.Signal) error {
	return h.usecase.Signal(ctx, sig)
}
