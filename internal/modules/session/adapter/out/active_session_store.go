package out

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
	"golang.org/x/xerrors"

	apperrors "dwell/internal/platform/errors"
)

type activePointer struct {
	LocalID string `json:"localId"`
}

// FileActiveSessionStore keeps the current session id in a small JSON file
// replaced atomically, so a crash never leaves a torn pointer.
type FileActiveSessionStore struct {
	path string
}

func NewFileActiveSessionStore(path string) *FileActiveSessionStore {
	return &FileActiveSessionStore{path: path}
}

func (s *FileActiveSessionStore) SaveActive(_ context.Context, localID string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return xerrors.Errorf("create active session dir: %w", err)
	}
	payload, err := json.MarshalIndent(activePointer{LocalID: localID}, "", "  ")
	if err != nil {
		return xerrors.Errorf("marshal active session: %w", err)
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(payload)); err != nil {
		return xerrors.Errorf("write active session: %w", err)
	}
	return nil
}

func (s *FileActiveSessionStore) LoadActive(_ context.Context) (string, error) {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", apperrors.ErrNoActiveSession
		}
		return "", xerrors.Errorf("read active session: %w", err)
	}
	var pointer activePointer
	if err := json.Unmarshal(payload, &pointer); err != nil {
		return "", xerrors.Errorf("decode active session: %w", err)
	}
	if pointer.LocalID == "" {
		return "", apperrors.ErrNoActiveSession
	}
	return pointer.LocalID, nil
}

func (s *FileActiveSessionStore) ClearActive(_ context.Context) error {
	if err := os.Remove(s.path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return xerrors.Errorf("clear active session: %w", err)
	}
	return nil
}
