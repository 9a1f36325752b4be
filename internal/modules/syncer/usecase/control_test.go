package usecase_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	out "dwell/internal/modules/syncer/adapter/out"
	"dwell/internal/modules/syncer/usecase"
)

func TestControlStopClearsStalePID(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	control := usecase.NewControl(f.store, out.NewJSONRPCClient(), []string{"daemon", "run"})

	// No process can hold this pid.
	require.NoError(t, f.store.WritePID(ctx, 1<<30))
	require.NoError(t, os.WriteFile(f.store.SocketPath(), nil, 0o600))

	status, err := control.RuntimeStatus(ctx)
	require.NoError(t, err)
	require.False(t, status.Running)
	require.Equal(t, 1<<30, status.PID)

	require.NoError(t, control.Stop(ctx))
	_, err = f.store.ReadPID(ctx)
	require.True(t, errors.Is(err, os.ErrNotExist))
	_, err = os.Stat(f.store.SocketPath())
	require.True(t, os.IsNotExist(err))

	require.NoError(t, control.Stop(ctx), "stopping a stopped daemon is a no-op")
}
