package out

import (
	"context"

	activity "dwell/internal/modules/activity/domain"
	ledgerdto "dwell/internal/modules/ledger/dto"
	"dwell/internal/modules/syncer/domain"
)

// RemoteClient is the server of record. Implementations return
// *apperrors.TransportError for retryable failures and
// *apperrors.ValidationError for permanent rejections.
type RemoteClient interface {
	UpsertAggregate(ctx context.Context, req ledgerdto.AggregateRequest) (ledgerdto.AggregateResponse, error)
	CreateSession(ctx context.Context, req ledgerdto.SessionRequest) (ledgerdto.SessionCreated, error)
	UpdateSession(ctx context.Context, sessionID string, patch ledgerdto.SessionPatch) error
}

type DaemonStore interface {
	WritePID(ctx context.Context, pid int) error
	ReadPID(ctx context.Context) (int, error)
	ClearPID(ctx context.Context) error
	SocketPath() string
	LogPath() string
}

// InstanceLock guarantees a single daemon per data directory.
type InstanceLock interface {
	TryLock() (bool, error)
	Unlock() error
}

// IPCServer serves the JSON-RPC daemon API on a unix socket.
type IPCServer interface {
	Serve(ctx context.Context, socketPath string, handler IPCHandler) error
}

// IPCClient talks to a running daemon.
type IPCClient interface {
	SyncNow(ctx context.Context, socketPath string) (domain.Result, error)
	Status(ctx context.Context, socketPath string) (DaemonStatus, error)
	Signal(ctx context.Context, socketPath string, sig activity.Signal) error
	Stop(ctx context.Context, socketPath string) error
}

type IPCHandler interface {
	SyncNow(ctx context.Context) (domain.Result, error)
	Status(ctx context.Context) (DaemonStatus, error)
	Signal(ctx context.Context, sig activity.Signal) error
	Stop(ctx context.Context) error
}

type DaemonStatus struct {
	Online         bool          `json:"online"`
	PID            int           `json:"pid"`
	StartedAt      int64         `json:"startedAt"`
	Sync           domain.Status `json:"sync"`
	CurrentDomain  string        `json:"currentDomain,omitempty"`
	CurrentSince   int64         `json:"currentSince,omitempty"`
	MetricsAddress string        `json:"metricsAddress,omitempty"`
}

type DaemonRuntimeStatus struct {
	Running    bool
	PID        int
	SocketPath string
	Status     DaemonStatus
}
