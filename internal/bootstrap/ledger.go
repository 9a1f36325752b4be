package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"time"

	"cdr.dev/slog/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	activitydomain "dwell/internal/modules/activity/domain"
	ledgerinadapter "dwell/internal/modules/ledger/adapter/in"
	ledgeroutadapter "dwell/internal/modules/ledger/adapter/out"
	ledgerservice "dwell/internal/modules/ledger/service"
	ledgerusecase "dwell/internal/modules/ledger/usecase"
	"dwell/internal/platform/clock"
	"dwell/internal/platform/config"
	"dwell/internal/platform/id"
	"dwell/internal/platform/sqlitedb"
	"dwell/internal/platform/tx"
)

const shutdownTimeout = 5 * time.Second

// NewLedgerHandler builds the ledger API over db.
func NewLedgerHandler(ctx context.Context, cfg config.Config, db *sql.DB, clk clock.Clock, logger slog.Logger) (http.Handler, error) {
	store, err := ledgeroutadapter.NewSQLiteStore(ctx, db)
	if err != nil {
		return nil, xerrors.Errorf("new ledger store: %w", err)
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	ledger, err := ledgerservice.New(ledgerservice.Options{
		Store: store,
		Tx:    tx.NewSQLManager(db),
		IDs:   id.UUID{},
		Clock: clk,
		Limits: activitydomain.Limits{
			MaxSession:   cfg.MaxSession.Milliseconds(),
			MaxDaily:     cfg.MaxDaily.Milliseconds(),
			HistoryLimit: cfg.Ledger.HistoryLimit,
		},
		Registerer: reg,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	return ledgerinadapter.NewHTTPHandler(ledgerinadapter.HTTPOptions{
		Usecase:    ledgerusecase.NewInteractor(ledger),
		Tokens:     cfg.Ledger.Tokens,
		RateLimit:  cfg.Ledger.RateLimit,
		Registerer: reg,
		Gatherer:   reg,
		Logger:     logger,
	})
}

// Serve runs the ledger API until ctx is done.
func Serve(ctx context.Context, cfg config.Config, logger slog.Logger) error {
	if len(cfg.Ledger.Tokens) == 0 {
		logger.Warn(ctx, "no ledger tokens configured, every api request will be rejected")
	}
	db, err := sqlitedb.Open(cfg.Ledger.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	logger = logger.Named("ledger")
	handler, err := NewLedgerHandler(ctx, cfg, db, clock.NewSystem(), logger)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", cfg.Ledger.ListenAddr)
	if err != nil {
		return xerrors.Errorf("listen %s: %w", cfg.Ledger.ListenAddr, err)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info(gctx, "ledger listening", slog.F("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
