package bootstrap

import (
	"context"
	"database/sql"
	"net/http"

	"cdr.dev/slog/v3"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/xerrors"

	activitydomain "dwell/internal/modules/activity/domain"
	activityinadapter "dwell/internal/modules/activity/adapter/in"
	activityoutadapter "dwell/internal/modules/activity/adapter/out"
	"dwell/internal/modules/activity/adapter/out/probe"
	activityservice "dwell/internal/modules/activity/service"
	activityusecase "dwell/internal/modules/activity/usecase"
	sessioninadapter "dwell/internal/modules/session/adapter/in"
	sessionoutadapter "dwell/internal/modules/session/adapter/out"
	sessionservice "dwell/internal/modules/session/service"
	sessionusecase "dwell/internal/modules/session/usecase"
	syncerinadapter "dwell/internal/modules/syncer/adapter/in"
	synceroutadapter "dwell/internal/modules/syncer/adapter/out"
	syncerout "dwell/internal/modules/syncer/port/out"
	syncerservice "dwell/internal/modules/syncer/service"
	syncerusecase "dwell/internal/modules/syncer/usecase"
	"dwell/internal/platform/clock"
	"dwell/internal/platform/config"
	"dwell/internal/platform/id"
	"dwell/internal/platform/sqlitedb"
	"dwell/internal/platform/tx"
	uiapp "dwell/internal/ui/app"
)

// Version is stamped into the MCP server handshake.
var Version = "dev"

const categoryCacheSize = 1024

type Options struct {
	// Clock defaults to the system clock.
	Clock clock.Clock
	// DaemonArgs re-executes the current binary as a foreground daemon.
	DaemonArgs []string
	// HTTPClient is used for the remote store. Nil means a client with the
	// configured request timeout.
	HTTPClient *http.Client
}

// App is the device-side engine: recorder, session lifecycle and sync.
type App struct {
	Config config.Config
	Logger slog.Logger

	ActivityCLI activityinadapter.CLIHandler
	SessionCLI  sessioninadapter.CLIHandler
	SyncCLI     syncerinadapter.CLIHandler

	db        *sql.DB
	clock     clock.Clock
	registry  *prometheus.Registry
	activity  *activityusecase.Interactor
	lifecycle *sessionservice.Lifecycle
	sessions  *sessionusecase.Interactor
	sync      *syncerusecase.Interactor
	watcher   *activityservice.Watcher
	probe     *probe.Host
	daemon    *syncerusecase.Daemon
}

func New(ctx context.Context, cfg config.Config, logger slog.Logger, opts Options) (*App, error) {
	clk := opts.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}
	ids := id.UUID{}

	db, err := sqlitedb.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	app := &App{Config: cfg, Logger: logger, db: db, clock: clk, registry: prometheus.NewRegistry()}
	if err := app.wire(ctx, ids, opts); err != nil {
		_ = db.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) wire(ctx context.Context, ids id.Generator, opts Options) error {
	cfg := a.Config
	txm := tx.NewSQLManager(a.db)
	a.registry.MustRegister(collectors.NewGoCollector())

	buffer, err := activityoutadapter.NewSQLiteEventBuffer(ctx, a.db, a.clock, cfg.MinInterval, cfg.RetentionPerDay)
	if err != nil {
		return xerrors.Errorf("new event buffer: %w", err)
	}
	aggregates, err := activityoutadapter.NewSQLiteAggregateStore(ctx, a.db)
	if err != nil {
		return xerrors.Errorf("new aggregate store: %w", err)
	}
	categories := activityoutadapter.NewCachedCategoryStore(cfg.Categories, categoryCacheSize, cfg.CategoryTTL)
	merger := activityservice.NewMerger(aggregates, categories, txm, a.clock, activitydomain.Limits{
		MaxSession:   cfg.MaxSession.Milliseconds(),
		MaxDaily:     cfg.MaxDaily.Milliseconds(),
		HistoryLimit: cfg.HistoryLimit,
	}, a.Logger)
	a.activity = activityusecase.NewInteractor(activityusecase.Options{
		UserID:     cfg.UserID,
		Merger:     merger,
		Buffer:     buffer,
		Categories: categories,
		IDs:        ids,
		Clock:      a.clock,
		Zone:       cfg.Zone,
		Logger:     a.Logger,
	})

	sessionStore, err := sessionoutadapter.NewSQLiteSessionStore(ctx, a.db)
	if err != nil {
		return xerrors.Errorf("new session store: %w", err)
	}
	a.lifecycle = sessionservice.NewLifecycle(a.clock, ids, sessionStore,
		sessionoutadapter.NewFileActiveSessionStore(cfg.ActiveSessionPath()),
		sessionStore, txm, a.Logger)
	a.sessions = sessionusecase.NewInteractor(a.lifecycle)

	var remote syncerout.RemoteClient = synceroutadapter.UnconfiguredRemote{}
	if cfg.RemoteURL != "" {
		client := opts.HTTPClient
		if client == nil {
			client = &http.Client{Timeout: cfg.RequestTimeout}
		}
		remote, err = synceroutadapter.NewHTTPRemote(cfg.RemoteURL, cfg.Token, client)
		if err != nil {
			return err
		}
	}
	dispatcher, err := syncerservice.NewDispatcher(syncerservice.Options{
		UserID:         cfg.UserID,
		Intervals:      a.activity,
		Sessions:       a.sessions,
		Remote:         remote,
		Clock:          a.clock,
		Interval:       cfg.DispatchInterval,
		BatchSize:      cfg.BatchSize,
		RequestTimeout: cfg.RequestTimeout,
		BackoffInitial: cfg.BackoffInitial,
		BackoffMax:     cfg.BackoffMax,
		Registerer:     a.registry,
		Logger:         a.Logger,
	})
	if err != nil {
		return err
	}

	daemonStore := synceroutadapter.NewFileDaemonStore(cfg.PIDPath(), cfg.SocketPath(), cfg.DaemonLogPath())
	ipcClient := synceroutadapter.NewJSONRPCClient()
	a.sync = syncerusecase.NewInteractor(dispatcher, ipcClient, daemonStore)

	watcherOpts := activityservice.WatcherOptions{
		Clock:       a.clock,
		IDs:         ids,
		Recorder:    a.activity,
		Zone:        cfg.Zone,
		MinDuration: cfg.MinInterval,
		Logger:      a.Logger,
	}
	if cfg.ProbePlugin != "" {
		a.probe = probe.NewHost(cfg.ProbePlugin, a.Logger)
		watcherOpts.Tabs = a.probe
	}
	a.watcher = activityservice.NewWatcher(watcherOpts)

	lock, err := synceroutadapter.NewFileLock(cfg.LockPath())
	if err != nil {
		return err
	}
	background := []func(context.Context) error{
		func(ctx context.Context) error { return a.lifecycle.RunExpiry(ctx, cfg.ExpiryCheck) },
	}
	if a.probe != nil {
		background = append(background, a.runProbe)
	}
	a.daemon = syncerusecase.NewDaemon(syncerusecase.DaemonOptions{
		Dispatcher:  dispatcher,
		Watcher:     a.watcher,
		Store:       daemonStore,
		Lock:        lock,
		IPC:         synceroutadapter.NewJSONRPCServer(),
		Clock:       a.clock,
		Background:  background,
		MetricsAddr: cfg.MetricsAddr,
		Gatherer:    a.registry,
		Logger:      a.Logger,
	})

	a.ActivityCLI = activityinadapter.NewCLIHandler(a.activity)
	a.SessionCLI = sessioninadapter.NewCLIHandler(a.sessions)
	a.SyncCLI = syncerinadapter.NewCLIHandler(a.sync, syncerusecase.NewControl(daemonStore, ipcClient, opts.DaemonArgs))
	return nil
}

// runProbe keeps the probe plugin connected and feeds its signals to the
// watcher until ctx is done.
func (a *App) runProbe(ctx context.Context) error {
	defer func() { _ = a.probe.Close() }()
	if _, err := a.probe.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return xerrors.Errorf("connect probe %s: %w", a.Config.ProbePlugin, err)
	}
	return a.watcher.Run(ctx, a.probe, a.Config.PollInterval)
}

// RunDaemon runs the recorder in the foreground until ctx is done.
func (a *App) RunDaemon(ctx context.Context) error {
	return a.daemon.Run(ctx)
}

func (a *App) RunTUI() error {
	model := uiapp.NewModel(a.ActivityCLI, a.SessionCLI, a.SyncCLI, a.Config.MaxDaily)
	program := tea.NewProgram(model, tea.WithAltScreen())
	_, err := program.Run()
	return err
}

// MCPServer exposes the read tools and sync_now to MCP clients.
func (a *App) MCPServer() *server.MCPServer {
	s := server.NewMCPServer("dwell", Version, server.WithToolCapabilities(true))
	activityinadapter.RegisterMCPTools(s, a.activity)
	sessioninadapter.RegisterMCPTools(s, a.sessions)
	syncerinadapter.RegisterMCPTools(s, a.sync)
	return s
}

func (a *App) ServeMCP() error {
	return server.ServeStdio(a.MCPServer())
}

func (a *App) Close() error {
	return a.db.Close()
}
