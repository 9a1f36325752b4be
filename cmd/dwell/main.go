package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dwell/internal/bootstrap"
	activitydto "dwell/internal/modules/activity/dto"
	sessiondto "dwell/internal/modules/session/dto"
	syncerdto "dwell/internal/modules/syncer/dto"
	"dwell/internal/platform/config"
	"dwell/internal/platform/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globals struct {
	dataDir string
	verbose bool
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:           "dwell",
		Short:         "Track where browsing time goes and sync it to a ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.dataDir, "data-dir", defaultDataDir(), "directory holding config.yaml, the buffer and daemon state")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newRecordCmd(g))
	root.AddCommand(newTodayCmd(g))
	root.AddCommand(newBufferCmd(g))
	root.AddCommand(newSignalCmd(g))
	root.AddCommand(newSessionCmd(g))
	root.AddCommand(newSyncCmd(g))
	root.AddCommand(newRunCmd(g))
	root.AddCommand(newDaemonCmd(g))
	root.AddCommand(newServeCmd(g))
	root.AddCommand(newMCPCmd(g))
	root.AddCommand(newTUICmd(g))
	return root
}

func defaultDataDir() string {
	if dir := os.Getenv("DWELL_DATA_DIR"); dir != "" {
		return dir
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "dwell")
	}
	return ".dwell"
}

// loadApp wires the engine. Logs go to stderr unless quiet is set, and
// always to the configured log file when one is set.
func loadApp(ctx context.Context, g *globals, logFile string, quiet bool) (*bootstrap.App, func(), error) {
	if err := os.MkdirAll(g.dataDir, 0o700); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(g.dataDir)
	if err != nil {
		return nil, nil, err
	}
	if logFile == "" {
		logFile = cfg.LogFile
	}
	var stderr io.Writer
	if quiet {
		stderr = io.Discard
	}
	logger, closeLog, err := logging.New(logging.Options{Verbose: g.verbose, File: logFile, Stderr: stderr})
	if err != nil {
		return nil, nil, err
	}
	app, err := bootstrap.New(ctx, cfg, logger, bootstrap.Options{
		DaemonArgs: []string{"daemon", "run", "--data-dir", g.dataDir},
	})
	if err != nil {
		closeLog()
		return nil, nil, err
	}
	return app, func() {
		_ = app.Close()
		closeLog()
	}, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newRecordCmd(g *globals) *cobra.Command {
	var start, end, tzName string
	var offset int
	cmd := &cobra.Command{
		Use:   "record <domain> --start <time> --end <time>",
		Short: "Record one visit interval",
		Long:  "Times are RFC3339 or epoch milliseconds.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			startMs, err := parseInstant(start)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			endMs, err := parseInstant(end)
			if err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			var offsetPtr *int
			if cmd.Flags().Changed("offset") {
				offsetPtr = &offset
			}
			app, closeApp, err := loadApp(cmd.Context(), g, "", false)
			if err != nil {
				return err
			}
			defer closeApp()
			out, err := app.ActivityCLI.Record(cmd.Context(), args[0], startMs, endMs, offsetPtr, tzName)
			if err != nil {
				return err
			}
			if !out.Stored {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "skipped %s (below minimum duration)\n", args[0])
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "recorded %s id=%s day=%s total=%s\n",
				out.Aggregate.Domain, out.IntervalID, out.Aggregate.LocalDate, formatMs(out.Aggregate.TotalTime))
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "interval start")
	cmd.Flags().StringVar(&end, "end", "", "interval end")
	cmd.Flags().IntVar(&offset, "offset", 0, "timezone offset in minutes east of UTC")
	cmd.Flags().StringVar(&tzName, "tz", "", "timezone label")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newTodayCmd(g *globals) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "today",
		Short: "Show per-domain totals for a local day",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, closeApp, err := loadApp(cmd.Context(), g, "", false)
			if err != nil {
				return err
			}
			defer closeApp()
			day, err := app.ActivityCLI.Today(cmd.Context(), date)
			if err != nil {
				return err
			}
			printDay(cmd.OutOrStdout(), day)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "local date YYYY-MM-DD, defaults to today")
	return cmd
}

func printDay(w io.Writer, day activitydto.DayOutput) {
	_, _ = fmt.Fprintf(w, "%s  total %s\n", day.LocalDate, formatMs(day.TotalTime))
	if len(day.Aggregates) == 0 {
		_, _ = fmt.Fprintln(w, "no activity")
		return
	}
	for _, agg := range day.Aggregates {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d spans\n", agg.Domain, agg.Category, formatMs(agg.TotalTime), len(agg.Sessions))
	}
}

func newBufferCmd(g *globals) *cobra.Command {
	buffer := &cobra.Command{Use: "buffer", Short: "Inspect the local event buffer"}
	buffer.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List buffered intervals",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, closeApp, err := loadApp(cmd.Context(), g, "", false)
			if err != nil {
				return err
			}
			defer closeApp()
			out, err := app.ActivityCLI.Buffer(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "pending=%d acknowledged=%d\n", out.Stats.Pending, out.Stats.Acknowledged)
			for _, b := range out.Items {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\t%s\n",
					b.ID, b.State, b.Domain, time.UnixMilli(b.StartMs).Format(time.RFC3339), formatMs(b.Duration))
			}
			return nil
		},
	})
	return buffer
}

func newSignalCmd(g *globals) *cobra.Command {
	var url, idle string
	var active, focused bool
	cmd := &cobra.Command{
		Use:   "signal <tab_activated|tab_updated|window_focus|idle_state>",
		Short: "Forward a browser signal to the running daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, closeApp, err := loadApp(cmd.Context(), g, "", false)
			if err != nil {
				return err
			}
			defer closeApp()
			return app.SyncCLI.Signal(cmd.Context(), activitydto.Signal{
				Kind:      activitydto.SignalKind(args[0]),
				URL:       url,
				Active:    active,
				Focused:   focused,
				IdleState: activitydto.IdleState(idle),
				At:        time.Now().UnixMilli(),
			})
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "tab url")
	cmd.Flags().BoolVar(&active, "active", false, "tab_updated refers to the foreground tab")
	cmd.Flags().BoolVar(&focused, "focused", false, "window gained focus")
	cmd.Flags().StringVar(&idle, "idle-state", "", "active|idle|locked")
	return cmd
}

func newSessionCmd(g *globals) *cobra.Command {
	session := &cobra.Command{Use: "session", Short: "Focus session lifecycle"}

	run := func(fn func(cmd *cobra.Command, app *bootstrap.App) (sessiondto.SessionOutput, error)) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			app, closeApp, err := loadApp(cmd.Context(), g, "", false)
			if err != nil {
				return err
			}
			defer closeApp()
			out, err := fn(cmd, app)
			if err != nil {
				return err
			}
			printSession(cmd.OutOrStdout(), out)
			return nil
		}
	}

	session.AddCommand(&cobra.Command{
		Use:   "start <focus|problem> <duration>",
		Short: "Start a session; duration is minutes or a Go duration",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			planned, err := parsePlanned(args[1])
			if err != nil {
				return err
			}
			return run(func(cmd *cobra.Command, app *bootstrap.App) (sessiondto.SessionOutput, error) {
				return app.SessionCLI.Start(cmd.Context(), args[0], planned)
			})(cmd, nil)
		},
	})

	var pauseReason string
	pause := &cobra.Command{
		Use:   "pause",
		Short: "Pause the active session",
		RunE: run(func(cmd *cobra.Command, app *bootstrap.App) (sessiondto.SessionOutput, error) {
			return app.SessionCLI.Pause(cmd.Context(), pauseReason)
		}),
	}
	pause.Flags().StringVar(&pauseReason, "reason", "", "pause reason")
	session.AddCommand(pause)

	session.AddCommand(&cobra.Command{
		Use:   "resume",
		Short: "Resume the paused session",
		RunE: run(func(cmd *cobra.Command, app *bootstrap.App) (sessiondto.SessionOutput, error) {
			return app.SessionCLI.Resume(cmd.Context())
		}),
	})

	var notes string
	var failed bool
	complete := &cobra.Command{
		Use:   "complete",
		Short: "Complete the active session",
		RunE: run(func(cmd *cobra.Command, app *bootstrap.App) (sessiondto.SessionOutput, error) {
			return app.SessionCLI.Complete(cmd.Context(), notes, !failed)
		}),
	}
	complete.Flags().StringVar(&notes, "notes", "", "session notes")
	complete.Flags().BoolVar(&failed, "failed", false, "mark the session unsuccessful")
	session.AddCommand(complete)

	var abandonReason string
	var interrupted bool
	abandon := &cobra.Command{
		Use:   "abandon",
		Short: "Abandon the active session",
		RunE: run(func(cmd *cobra.Command, app *bootstrap.App) (sessiondto.SessionOutput, error) {
			return app.SessionCLI.Abandon(cmd.Context(), abandonReason, interrupted)
		}),
	}
	abandon.Flags().StringVar(&abandonReason, "reason", "", "why the session ended")
	abandon.Flags().BoolVar(&interrupted, "interrupted", false, "record as interrupted instead of abandoned")
	session.AddCommand(abandon)

	session.AddCommand(&cobra.Command{
		Use:   "active",
		Short: "Show the active session",
		RunE: run(func(cmd *cobra.Command, app *bootstrap.App) (sessiondto.SessionOutput, error) {
			return app.SessionCLI.Active(cmd.Context())
		}),
	})

	var limit int
	history := &cobra.Command{
		Use:   "history",
		Short: "List recent sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, closeApp, err := loadApp(cmd.Context(), g, "", false)
			if err != nil {
				return err
			}
			defer closeApp()
			items, err := app.SessionCLI.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
				return nil
			}
			for _, s := range items {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\t%s\n",
					s.LocalID, s.Type, s.Status, time.UnixMilli(s.StartTime).Format(time.RFC3339), formatMs(s.Duration))
			}
			return nil
		},
	}
	history.Flags().IntVar(&limit, "limit", 20, "sessions to show")
	session.AddCommand(history)
	return session
}

func printSession(w io.Writer, s sessiondto.SessionOutput) {
	_, _ = fmt.Fprintf(w, "session %s type=%s status=%s\n", s.LocalID, s.Type, s.Status)
	_, _ = fmt.Fprintf(w, "elapsed=%s remaining=%s paused=%s\n",
		s.Elapsed.Round(time.Second), s.Remaining.Round(time.Second), formatMs(s.PausedDuration))
	if s.SessionID != "" {
		_, _ = fmt.Fprintf(w, "server id=%s\n", s.SessionID)
	}
}

func newSyncCmd(g *globals) *cobra.Command {
	sync := &cobra.Command{
		Use:   "sync",
		Short: "Push buffered intervals and sessions to the remote store now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, closeApp, err := loadApp(cmd.Context(), g, "", false)
			if err != nil {
				return err
			}
			defer closeApp()
			result, err := app.SyncCLI.SyncNow(cmd.Context())
			printResult(cmd.OutOrStdout(), result)
			return err
		},
	}
	sync.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show dispatcher status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, closeApp, err := loadApp(cmd.Context(), g, "", false)
			if err != nil {
				return err
			}
			defer closeApp()
			status, err := app.SyncCLI.Status(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "online=%t runs=%d backing_off=%d cursor=%d\n",
				status.Online, status.Sync.Runs, status.Sync.BackingOff, status.Sync.CursorSize)
			if status.Sync.LastError != "" {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "last error: %s\n", status.Sync.LastError)
			}
			printResult(cmd.OutOrStdout(), status.Sync.LastResult)
			return nil
		},
	})
	return sync
}

func printResult(w io.Writer, r syncerdto.Result) {
	_, _ = fmt.Fprintf(w, "intervals synced=%d failed=%d dropped=%d deferred=%d duplicate=%d\n",
		r.Synced, r.Failed, r.Dropped, r.Deferred, r.Suppressed)
	_, _ = fmt.Fprintf(w, "sessions synced=%d failed=%d dropped=%d deferred=%d\n",
		r.Sessions, r.SessionsFailed, r.SessionsDropped, r.SessionsDeferred)
	for _, id := range r.Conflicts {
		_, _ = fmt.Fprintf(w, "interrupted %s: another session is active on the server\n", id)
	}
}

// newRunCmd runs the recorder in the foreground. It is mounted both as
// "dwell run" and as "dwell daemon run", which is what "daemon start" spawns.
func newRunCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the recorder in the foreground",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()
			if err := os.MkdirAll(g.dataDir, 0o700); err != nil {
				return err
			}
			cfg, err := config.Load(g.dataDir)
			if err != nil {
				return err
			}
			app, closeApp, err := loadApp(ctx, g, cfg.DaemonLogPath(), false)
			if err != nil {
				return err
			}
			defer closeApp()
			return app.RunDaemon(ctx)
		},
	}
}

func newDaemonCmd(g *globals) *cobra.Command {
	daemon := &cobra.Command{Use: "daemon", Short: "Manage the background recorder"}
	daemon.AddCommand(newRunCmd(g))
	daemon.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start the recorder in the background",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, closeApp, err := loadApp(cmd.Context(), g, "", false)
			if err != nil {
				return err
			}
			defer closeApp()
			if err := app.SyncCLI.DaemonStart(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "daemon started")
			return nil
		},
	})
	daemon.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop the background recorder",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, closeApp, err := loadApp(cmd.Context(), g, "", false)
			if err != nil {
				return err
			}
			defer closeApp()
			if err := app.SyncCLI.DaemonStop(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "daemon stopped")
			return nil
		},
	})
	daemon.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show recorder status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, closeApp, err := loadApp(cmd.Context(), g, "", false)
			if err != nil {
				return err
			}
			defer closeApp()
			status, err := app.SyncCLI.DaemonStatus(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "running=%t pid=%d socket=%s\n", status.Running, status.PID, status.SocketPath)
			if status.Status.CurrentDomain != "" {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "watching %s since %s\n",
					status.Status.CurrentDomain, time.UnixMilli(status.Status.CurrentSince).Format(time.RFC3339))
			}
			if status.Status.MetricsAddress != "" {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "metrics http://%s/metrics\n", status.Status.MetricsAddress)
			}
			return nil
		},
	})
	return daemon
}

func newServeCmd(g *globals) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ledger API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()
			if err := os.MkdirAll(g.dataDir, 0o700); err != nil {
				return err
			}
			cfg, err := config.Load(g.dataDir)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Ledger.ListenAddr = listen
			}
			logger, closeLog, err := logging.New(logging.Options{Verbose: g.verbose, File: cfg.LogFile})
			if err != nil {
				return err
			}
			defer closeLog()
			return bootstrap.Serve(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address, overrides ledger.listen_addr")
	return cmd
}

func newMCPCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve activity and session tools over MCP stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, closeApp, err := loadApp(cmd.Context(), g, "", false)
			if err != nil {
				return err
			}
			defer closeApp()
			return app.ServeMCP()
		},
	}
}

func newTUICmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Run the terminal dashboard",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, closeApp, err := loadApp(cmd.Context(), g, "", true)
			if err != nil {
				return err
			}
			defer closeApp()
			return app.RunTUI()
		},
	}
}

func parseInstant(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0, fmt.Errorf("want RFC3339 or epoch milliseconds, got %q", raw)
	}
	return t.UnixMilli(), nil
}

func parsePlanned(raw string) (time.Duration, error) {
	if minutes, err := strconv.Atoi(raw); err == nil {
		return time.Duration(minutes) * time.Minute, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("duration %q: want minutes or a value like 25m", raw)
	}
	return d, nil
}

func formatMs(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(time.Second).String()
}
