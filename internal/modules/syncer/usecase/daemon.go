package usecase

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	activity "dwell/internal/modules/activity/domain"
	"dwell/internal/modules/syncer/domain"
	syncerout "dwell/internal/modules/syncer/port/out"
	"dwell/internal/modules/syncer/service"
	"dwell/internal/platform/clock"
)

// Watcher is the activity watcher as seen by the daemon.
type Watcher interface {
	Handle(ctx context.Context, sig activity.Signal) error
	Flush(ctx context.Context) error
	Current() (string, int64, bool)
}

type DaemonOptions struct {
	Dispatcher *service.Dispatcher
	Watcher    Watcher
	Store      syncerout.DaemonStore
	Lock       syncerout.InstanceLock
	IPC        syncerout.IPCServer
	Clock      clock.Clock
	// Background loops run for the daemon's lifetime, e.g. probe polling and
	// session expiry. A loop returning an error stops the daemon.
	Background  []func(context.Context) error
	MetricsAddr string
	Gatherer    prometheus.Gatherer
	Logger      slog.Logger
}

// Daemon is the long-running recorder: it owns the dispatcher loop, the IPC
// socket and the background loops, and is the only writer for its data dir.
type Daemon struct {
	opts   DaemonOptions
	logger slog.Logger

	mu          sync.Mutex
	cancel      context.CancelFunc
	startedAt   int64
	metricsAddr string
}

func NewDaemon(opts DaemonOptions) *Daemon {
	return &Daemon{opts: opts, logger: opts.Logger.Named("daemon")}
}

var _ syncerout.IPCHandler = (*Daemon)(nil)

func (d *Daemon) Run(ctx context.Context) error {
	locked, err := d.opts.Lock.TryLock()
	if err != nil {
		return xerrors.Errorf("acquire daemon lock: %w", err)
	}
	if !locked {
		return domain.ErrDaemonRunning
	}
	defer func() { _ = d.opts.Lock.Unlock() }()

	if err := os.Remove(d.opts.Store.SocketPath()); err != nil && !os.IsNotExist(err) {
		return xerrors.Errorf("remove stale ipc socket: %w", err)
	}
	if err := d.opts.Store.WritePID(ctx, os.Getpid()); err != nil {
		return err
	}
	defer func() { _ = d.opts.Store.ClearPID(context.Background()) }()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.mu.Lock()
	d.cancel = cancel
	d.startedAt = clock.NowMillis(d.opts.Clock, "daemon", "start")
	d.mu.Unlock()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return d.opts.Dispatcher.Run(gctx) })
	g.Go(func() error { return d.opts.IPC.Serve(gctx, d.opts.Store.SocketPath(), d) })
	for _, loop := range d.opts.Background {
		g.Go(func() error { return loop(gctx) })
	}
	if d.opts.MetricsAddr != "" {
		if err := d.serveMetrics(gctx, g); err != nil {
			cancel()
			_ = g.Wait()
			return err
		}
	}
	d.logger.Info(ctx, "daemon started",
		slog.F("pid", os.Getpid()),
		slog.F("socket", d.opts.Store.SocketPath()),
		slog.F("metrics", d.metricsAddress()),
	)

	err = g.Wait()

	flushCtx, cancelFlush := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancelFlush()
	if flushErr := d.opts.Watcher.Flush(flushCtx); flushErr != nil {
		d.logger.Warn(flushCtx, "flush open interval", slog.Error(flushErr))
	}
	d.logger.Info(flushCtx, "daemon stopped")
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (d *Daemon) serveMetrics(ctx context.Context, g *errgroup.Group) error {
	ln, err := net.Listen("tcp", d.opts.MetricsAddr)
	if err != nil {
		return xerrors.Errorf("start metrics listener: %w", err)
	}
	gatherer := d.opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 2 * time.Second,
	}
	d.mu.Lock()
	d.metricsAddr = ln.Addr().String()
	d.mu.Unlock()
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return nil
}

func (d *Daemon) metricsAddress() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.metricsAddr
}

func (d *Daemon) SyncNow(ctx context.Context) (domain.Result, error) {
	return d.opts.Dispatcher.DispatchPending(ctx)
}

func (d *Daemon) Status(context.Context) (syncerout.DaemonStatus, error) {
	d.mu.Lock()
	status := syncerout.DaemonStatus{
		Online:         true,
		PID:            os.Getpid(),
		StartedAt:      d.startedAt,
		MetricsAddress: d.metricsAddr,
	}
	d.mu.Unlock()
	status.Sync = d.opts.Dispatcher.Status()
	if host, since, ok := d.opts.Watcher.Current(); ok {
		status.CurrentDomain = host
		status.CurrentSince = since
	}
	return status, nil
}

func (d *Daemon) Signal(ctx context.Context, sig activity.Signal) error {
	return d.opts.Watcher.Handle(ctx, sig)
}

func (d *Daemon) Stop(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
	return nil
}
