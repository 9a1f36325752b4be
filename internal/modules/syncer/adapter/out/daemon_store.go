package out

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"golang.org/x/xerrors"

	syncerout "dwell/internal/modules/syncer/port/out"
)

type FileDaemonStore struct {
	pidPath    string
	socketPath string
	logPath    string
}

func NewFileDaemonStore(pidPath, socketPath, logPath string) *FileDaemonStore {
	return &FileDaemonStore{pidPath: pidPath, socketPath: socketPath, logPath: logPath}
}

var _ syncerout.DaemonStore = (*FileDaemonStore)(nil)

func (s *FileDaemonStore) WritePID(_ context.Context, pid int) error {
	if err := os.MkdirAll(filepath.Dir(s.pidPath), 0o755); err != nil {
		return xerrors.Errorf("create daemon dir: %w", err)
	}
	return os.WriteFile(s.pidPath, []byte(strconv.Itoa(pid)), 0o644)
}

// ReadPID returns an error matching os.ErrNotExist when no pid file exists.
func (s *FileDaemonStore) ReadPID(_ context.Context) (int, error) {
	raw, err := os.ReadFile(s.pidPath)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, xerrors.Errorf("decode daemon pid: %w", err)
	}
	return pid, nil
}

func (s *FileDaemonStore) ClearPID(_ context.Context) error {
	if err := os.Remove(s.pidPath); err != nil && !os.IsNotExist(err) {
		return xerrors.Errorf("remove daemon pid: %w", err)
	}
	return nil
}

func (s *FileDaemonStore) SocketPath() string { return s.socketPath }

func (s *FileDaemonStore) LogPath() string { return s.logPath }

// FileLock is an advisory lock on a file next to the data.
type FileLock struct {
	lock *flock.Flock
}

func NewFileLock(path string) (*FileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, xerrors.Errorf("create lock dir: %w", err)
	}
	return &FileLock{lock: flock.New(path)}, nil
}

var _ syncerout.InstanceLock = (*FileLock)(nil)

func (l *FileLock) TryLock() (bool, error) { return l.lock.TryLock() }

func (l *FileLock) Unlock() error { return l.lock.Unlock() }
