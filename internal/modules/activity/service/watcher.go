package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"golang.org/x/xerrors"

	"dwell/internal/modules/activity/domain"
	"dwell/internal/modules/activity/port/out"
	"dwell/internal/platform/clock"
	apperrors "dwell/internal/platform/errors"
	"dwell/internal/platform/hostname"
	"dwell/internal/platform/id"
)

// Recorder receives closed intervals.
type Recorder interface {
	RecordInterval(ctx context.Context, interval domain.Interval) error
}

// TabSource answers which tab currently has focus.
type TabSource interface {
	ActiveTab(ctx context.Context) (domain.Tab, error)
}

// ZoneFunc returns the timezone label and offset in effect at t.
type ZoneFunc func(t time.Time) (string, int)

type WatcherOptions struct {
	Clock       clock.Clock
	IDs         id.Generator
	Recorder    Recorder
	Tabs        TabSource
	Zone        ZoneFunc
	MinDuration time.Duration
	Logger      slog.Logger
}

// Watcher turns focus, tab and idle signals into closed intervals. At most
// one interval is open at a time.
type Watcher struct {
	clock       clock.Clock
	ids         id.Generator
	recorder    Recorder
	tabs        TabSource
	zone        ZoneFunc
	minDuration int64
	logger      slog.Logger

	mu      sync.Mutex
	open    *openInterval
	idle    bool
	focused bool
}

type openInterval struct {
	domain  string
	startMs int64
}

func NewWatcher(opts WatcherOptions) *Watcher {
	zone := opts.Zone
	if zone == nil {
		zone = func(time.Time) (string, int) { return "UTC", 0 }
	}
	return &Watcher{
		clock:       opts.Clock,
		ids:         opts.IDs,
		recorder:    opts.Recorder,
		tabs:        opts.Tabs,
		zone:        zone,
		minDuration: opts.MinDuration.Milliseconds(),
		logger:      opts.Logger.Named("watcher"),
		focused:     true,
	}
}

// Handle applies one signal.
func (w *Watcher) Handle(ctx context.Context, sig domain.Signal) error {
	if !sig.Kind.Valid() {
		return xerrors.Errorf("signal kind %q: %w", sig.Kind, apperrors.ErrInvalidInput)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	now := sig.At
	if now == 0 {
		now = clock.NowMillis(w.clock, "watcher", "signal")
	}

	switch sig.Kind {
	case domain.SignalTabActivated:
		url := sig.URL
		if url == "" {
			tab, err := w.queryTab(ctx)
			if err != nil {
				return err
			}
			url = tab.URL
		}
		return w.switchTo(ctx, url, now)
	case domain.SignalTabUpdated:
		if !sig.Active {
			return nil
		}
		return w.switchTo(ctx, sig.URL, now)
	case domain.SignalWindowFocus:
		if !sig.Focused {
			w.focused = false
			return w.switchTo(ctx, "", now)
		}
		w.focused = true
		return w.requery(ctx, now)
	case domain.SignalIdleState:
		if sig.IdleState == domain.IdleActive {
			if !w.idle {
				return nil
			}
			w.idle = false
			return w.requery(ctx, now)
		}
		w.idle = true
		return w.switchTo(ctx, "", now)
	}
	return nil
}

// Flush closes the open interval, if any.
func (w *Watcher) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeOpen(ctx, clock.NowMillis(w.clock, "watcher", "flush"))
}

// Current reports the domain being timed and when it started.
func (w *Watcher) Current() (string, int64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.open == nil {
		return "", 0, false
	}
	return w.open.domain, w.open.startMs, true
}

// Run polls the probe for signals until ctx is done.
func (w *Watcher) Run(ctx context.Context, probe out.Probe, every time.Duration) error {
	waiter := w.clock.TickerFunc(ctx, every, func() error {
		signals, err := probe.Poll(ctx)
		if err != nil {
			w.logger.Warn(ctx, "poll probe", slog.Error(err))
			return nil
		}
		for _, sig := range signals {
			if err := w.Handle(ctx, sig); err != nil {
				w.logger.Warn(ctx, "handle signal", slog.F("kind", sig.Kind), slog.Error(err))
			}
		}
		return nil
	}, "watcher", "poll")
	err := waiter.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// requery asks the probe which tab is in front instead of assuming the one
// that was open before focus or activity was lost is still current.
func (w *Watcher) requery(ctx context.Context, now int64) error {
	tab, err := w.queryTab(ctx)
	if err != nil {
		_ = w.closeOpen(ctx, now)
		return err
	}
	if tab.Idle {
		w.idle = true
	}
	return w.switchTo(ctx, tab.URL, now)
}

func (w *Watcher) queryTab(ctx context.Context) (domain.Tab, error) {
	if w.tabs == nil {
		return domain.Tab{}, nil
	}
	tab, err := w.tabs.ActiveTab(ctx)
	if err != nil {
		return domain.Tab{}, xerrors.Errorf("query active tab: %w", err)
	}
	return tab, nil
}

func (w *Watcher) switchTo(ctx context.Context, url string, now int64) error {
	target := ""
	if !w.idle && w.focused {
		if host, ok := hostname.FromURL(url); ok {
			target = host
		}
	}
	if w.open != nil && w.open.domain == target {
		return nil
	}
	err := w.closeOpen(ctx, now)
	if target != "" {
		w.open = &openInterval{domain: target, startMs: now}
	}
	return err
}

func (w *Watcher) closeOpen(ctx context.Context, now int64) error {
	if w.open == nil {
		return nil
	}
	prev := *w.open
	w.open = nil
	if now-prev.startMs < w.minDuration || now <= prev.startMs {
		w.logger.Debug(ctx, "discarding short interval", slog.F("domain", prev.domain), slog.F("duration_ms", now-prev.startMs))
		return nil
	}
	tzName, offset := w.zone(clock.FromMillis(prev.startMs))
	interval, err := domain.NewInterval(w.ids.New(), prev.domain, prev.startMs, now, offset, tzName, now)
	if err != nil {
		return err
	}
	if err := w.recorder.RecordInterval(ctx, interval); err != nil {
		return xerrors.Errorf("record interval: %w", err)
	}
	return nil
}
