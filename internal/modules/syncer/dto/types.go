package dto

import (
	"dwell/internal/modules/syncer/domain"
	syncerout "dwell/internal/modules/syncer/port/out"
)

type (
	Result        = domain.Result
	SyncStatus    = domain.Status
	DaemonStatus  = syncerout.DaemonStatus
	RuntimeStatus = syncerout.DaemonRuntimeStatus
)
