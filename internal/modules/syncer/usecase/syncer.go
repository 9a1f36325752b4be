package usecase

import (
	"context"
	"errors"

	"golang.org/x/xerrors"

	activity "dwell/internal/modules/activity/domain"
	"dwell/internal/modules/syncer/domain"
	syncerout "dwell/internal/modules/syncer/port/out"
	"dwell/internal/modules/syncer/service"
	apperrors "dwell/internal/platform/errors"
)

// Interactor serves sync requests from the CLI and MCP server. When a daemon
// is running the request is forwarded to it, otherwise the local dispatcher
// runs in this process.
type Interactor struct {
	dispatcher *service.Dispatcher
	client     syncerout.IPCClient
	daemon     syncerout.DaemonStore
}

func NewInteractor(dispatcher *service.Dispatcher, client syncerout.IPCClient, daemon syncerout.DaemonStore) *Interactor {
	return &Interactor{dispatcher: dispatcher, client: client, daemon: daemon}
}

func (i *Interactor) SyncNow(ctx context.Context) (domain.Result, error) {
	if i.client != nil {
		result, err := i.client.SyncNow(ctx, i.daemon.SocketPath())
		if err == nil {
			return result, result.Err()
		}
		if !errors.Is(err, domain.ErrDaemonUnavailable) {
			return domain.Result{}, err
		}
	}
	result, err := i.dispatcher.DispatchPending(ctx)
	if err != nil {
		return result, err
	}
	return result, result.Err()
}

func (i *Interactor) Status(ctx context.Context) (syncerout.DaemonStatus, error) {
	if i.client != nil {
		status, err := i.client.Status(ctx, i.daemon.SocketPath())
		if err == nil {
			return status, nil
		}
		if !errors.Is(err, domain.ErrDaemonUnavailable) {
			return syncerout.DaemonStatus{}, err
		}
	}
	return syncerout.DaemonStatus{Online: false, Sync: i.dispatcher.Status()}, nil
}

func (i *Interactor) Signal(ctx context.Context, sig activity.Signal) error {
	if !sig.Kind.Valid() {
		return xerrors.Errorf("signal kind %q: %w", sig.Kind, apperrors.ErrInvalidInput)
	}
	if i.client == nil {
		return domain.ErrDaemonUnavailable
	}
	return i.client.Signal(ctx, i.daemon.SocketPath(), sig)
}
