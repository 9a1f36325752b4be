package in

import (
	"context"

	activity "dwell/internal/modules/activity/domain"
	"dwell/internal/modules/syncer/domain"
	syncerout "dwell/internal/modules/syncer/port/out"
)

type Usecase interface {
	// SyncNow runs a dispatch immediately, through the daemon when one is
	// running so the two never dispatch concurrently.
	SyncNow(ctx context.Context) (domain.Result, error)
	Status(ctx context.Context) (syncerout.DaemonStatus, error)
	// Signal hands a browser observation to the daemon's watcher. It fails
	// with ErrDaemonUnavailable when no daemon is running.
	Signal(ctx context.Context, sig activity.Signal) error
}

type DaemonControl interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	RuntimeStatus(ctx context.Context) (syncerout.DaemonRuntimeStatus, error)
}
