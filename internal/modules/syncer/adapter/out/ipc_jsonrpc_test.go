package out_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	activity "dwell/internal/modules/activity/domain"
	out "dwell/internal/modules/syncer/adapter/out"
	"dwell/internal/modules/syncer/domain"
	syncerout "dwell/internal/modules/syncer/port/out"
)

type fakeIPCHandler struct {
	mu      sync.Mutex
	signals []activity.Signal
	stopped bool
}

func (h *fakeIPCHandler) SyncNow(context.Context) (domain.Result, error) {
	return domain.Result{Synced: 4, Deferred: 1, Conflicts: []string{"s1"}}, nil
}

func (h *fakeIPCHandler) Status(context.Context) (syncerout.DaemonStatus, error) {
	return syncerout.DaemonStatus{
		Online:        true,
		PID:           42,
		CurrentDomain: "github.com",
		Sync:          domain.Status{Runs: 7, BackingOff: 1},
	}, nil
}

func (h *fakeIPCHandler) Signal(_ context.Context, sig activity.Signal) error {
	if !sig.Kind.Valid() {
		return errors.New("unknown signal kind")
	}
	h.mu.Lock()
	h.signals = append(h.signals, sig)
	h.mu.Unlock()
	return nil
}

func (h *fakeIPCHandler) Stop(context.Context) error {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
	return nil
}

func TestJSONRPCServerClientContract(t *testing.T) {
	t.Parallel()
	h := &fakeIPCHandler{}
	server := out.NewJSONRPCServer()
	client := out.NewJSONRPCClient()
	socketPath := filepath.Join(t.TempDir(), "d.sock")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(ctx, socketPath, h)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case err := <-serveErr:
			t.Fatalf("serve returned before cancel: %v", err)
		default:
		}
		_, err := client.Status(context.Background(), socketPath)
		if err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	status, err := client.Status(context.Background(), socketPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Online || status.PID != 42 || status.Sync.Runs != 7 || status.CurrentDomain != "github.com" {
		t.Fatalf("unexpected status output: %+v", status)
	}

	result, err := client.SyncNow(context.Background(), socketPath)
	if err != nil {
		t.Fatalf("sync now: %v", err)
	}
	if result.Synced != 4 || result.Deferred != 1 || len(result.Conflicts) != 1 {
		t.Fatalf("unexpected sync output: %+v", result)
	}

	sig := activity.Signal{Kind: activity.SignalTabActivated, URL: "https://github.com/x", At: 1000}
	if err := client.Signal(context.Background(), socketPath, sig); err != nil {
		t.Fatalf("signal: %v", err)
	}
	if err := client.Signal(context.Background(), socketPath, activity.Signal{Kind: "bogus"}); err == nil {
		t.Fatalf("expected handler error to cross the socket")
	}
	h.mu.Lock()
	if len(h.signals) != 1 || h.signals[0].URL != sig.URL {
		t.Fatalf("unexpected signals: %+v", h.signals)
	}
	h.mu.Unlock()

	if err := client.Stop(context.Background(), socketPath); err != nil {
		t.Fatalf("stop: %v", err)
	}
	h.mu.Lock()
	stopped := h.stopped
	h.mu.Unlock()
	if !stopped {
		t.Fatalf("expected stop to be forwarded")
	}

	cancel()
	select {
	case err := <-serveErr:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not stop")
	}
}

func TestJSONRPCClientReportsMissingDaemon(t *testing.T) {
	t.Parallel()
	client := out.NewJSONRPCClient()
	_, err := client.Status(context.Background(), filepath.Join(t.TempDir(), "none.sock"))
	if !errors.Is(err, domain.ErrDaemonUnavailable) {
		t.Fatalf("expected ErrDaemonUnavailable, got %v", err)
	}
}
