package out

import (
	"context"

	ledgerdto "dwell/internal/modules/ledger/dto"
	"dwell/internal/modules/syncer/domain"
	syncerout "dwell/internal/modules/syncer/port/out"
	apperrors "dwell/internal/platform/errors"
)

// UnconfiguredRemote stands in when no remote URL is configured. Every call
// fails as unreachable, so dispatches stop early and nothing is dropped.
type UnconfiguredRemote struct{}

var _ syncerout.RemoteClient = UnconfiguredRemote{}

func (UnconfiguredRemote) UpsertAggregate(context.Context, ledgerdto.AggregateRequest) (ledgerdto.AggregateResponse, error) {
	return ledgerdto.AggregateResponse{}, unconfigured()
}

func (UnconfiguredRemote) CreateSession(context.Context, ledgerdto.SessionRequest) (ledgerdto.SessionCreated, error) {
	return ledgerdto.SessionCreated{}, unconfigured()
}

func (UnconfiguredRemote) UpdateSession(context.Context, string, ledgerdto.SessionPatch) error {
	return unconfigured()
}

func unconfigured() error {
	return &apperrors.TransportError{Err: domain.ErrRemoteNotConfigured}
}
