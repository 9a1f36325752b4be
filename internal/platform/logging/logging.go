package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/sloghuman"
	"golang.org/x/xerrors"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	// Verbose lowers the level to debug.
	Verbose bool
	// File, when set, tees log output to a rotated file.
	File   string
	Stderr io.Writer
}

// New builds the process logger. The returned close func releases the
// rotated file, if any, and is safe to call more than once.
func New(opts Options) (slog.Logger, func(), error) {
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	sinks := []slog.Sink{sloghuman.Sink(stderr)}
	closers := []func() error{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o700); err != nil {
			return slog.Logger{}, func() {}, xerrors.Errorf("create log dir: %w", err)
		}
		w := &rotatingWriter{w: &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    5, // MB
			MaxBackups: 1,
		}}
		sinks = append(sinks, sloghuman.Sink(w))
		closers = append(closers, w.Close)
	}

	logger := slog.Make(sinks...)
	if opts.Verbose {
		logger = logger.Leveled(slog.LevelDebug)
	}

	var once sync.Once
	closeFn := func() {
		once.Do(func() {
			for _, c := range closers {
				_ = c()
			}
		})
	}
	return logger, closeFn, nil
}

// rotatingWriter guards lumberjack against writes after Close, which would
// otherwise reopen the file.
type rotatingWriter struct {
	mu     sync.Mutex
	closed bool
	w      *lumberjack.Logger
}

func (r *rotatingWriter) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, io.ErrClosedPipe
	}
	return r.w.Write(p)
}

func (r *rotatingWriter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return r.w.Close()
}
