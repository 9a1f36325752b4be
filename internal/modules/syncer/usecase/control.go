package usecase

import (
	"context"
	"errors"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/xerrors"

	"dwell/internal/modules/syncer/domain"
	syncerout "dwell/internal/modules/syncer/port/out"
)

const daemonStartTimeout = 5 * time.Second

// Control starts and stops a background daemon process.
type Control struct {
	store  syncerout.DaemonStore
	client syncerout.IPCClient
	// args re-executes the current binary as a foreground daemon.
	args []string
}

func NewControl(store syncerout.DaemonStore, client syncerout.IPCClient, args []string) *Control {
	return &Control{store: store, client: client, args: args}
}

func (c *Control) Start(ctx context.Context) error {
	if err := c.cleanupStaleArtifacts(ctx); err != nil {
		return err
	}
	status, err := c.RuntimeStatus(ctx)
	if err == nil && status.Running {
		if socketReachable(c.store.SocketPath()) {
			return nil
		}
		return xerrors.Errorf("daemon process is alive but socket is unavailable: %w", domain.ErrDaemonStartFailed)
	}

	execPath, err := os.Executable()
	if err != nil {
		return xerrors.Errorf("resolve executable: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.store.LogPath()), 0o755); err != nil {
		return xerrors.Errorf("create daemon log dir: %w", err)
	}
	logFile, err := os.OpenFile(c.store.LogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return xerrors.Errorf("open daemon log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(execPath, c.args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return xerrors.Errorf("start daemon: %w", err)
	}
	_ = cmd.Process.Release()

	if err := waitForSocket(c.store.SocketPath(), daemonStartTimeout); err != nil {
		return xerrors.Errorf("%v: %w", err, domain.ErrDaemonStartFailed)
	}
	return nil
}

func (c *Control) Stop(ctx context.Context) error {
	if c.client != nil {
		_ = c.client.Stop(ctx, c.store.SocketPath())
	}
	pid, err := c.store.ReadPID(ctx)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			_ = os.Remove(c.store.SocketPath())
			return nil
		}
		return err
	}
	if !processAlive(pid) {
		_ = c.store.ClearPID(ctx)
		_ = os.Remove(c.store.SocketPath())
		return nil
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return xerrors.Errorf("stop daemon pid=%d: %w", pid, err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && processAlive(pid) {
		time.Sleep(100 * time.Millisecond)
	}
	if processAlive(pid) {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
	if err := c.store.ClearPID(ctx); err != nil {
		return err
	}
	_ = os.Remove(c.store.SocketPath())
	return nil
}

func (c *Control) RuntimeStatus(ctx context.Context) (syncerout.DaemonRuntimeStatus, error) {
	out := syncerout.DaemonRuntimeStatus{SocketPath: c.store.SocketPath()}
	pid, err := c.store.ReadPID(ctx)
	if err == nil {
		out.PID = pid
		out.Running = processAlive(pid)
	}
	if out.Running && c.client != nil {
		if status, statusErr := c.client.Status(ctx, c.store.SocketPath()); statusErr == nil {
			out.Status = status
		}
	}
	return out, nil
}

func (c *Control) cleanupStaleArtifacts(ctx context.Context) error {
	pid, err := c.store.ReadPID(ctx)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	} else if !processAlive(pid) {
		_ = c.store.ClearPID(ctx)
		_ = os.Remove(c.store.SocketPath())
	}
	if _, statErr := os.Stat(c.store.SocketPath()); statErr == nil && !socketReachable(c.store.SocketPath()) {
		if removeErr := os.Remove(c.store.SocketPath()); removeErr != nil && !os.IsNotExist(removeErr) {
			return xerrors.Errorf("remove stale daemon socket: %w", removeErr)
		}
	}
	return nil
}

func waitForSocket(path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if socketReachable(path) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return xerrors.Errorf("daemon socket not ready: %s", path)
}

func socketReachable(path string) bool {
	conn, err := net.DialTimeout("unix", path, 150*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
