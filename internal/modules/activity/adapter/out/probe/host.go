package probe

import (
	"context"
	"io"
	"os/exec"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/retry"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
	"golang.org/x/xerrors"

	"dwell/internal/modules/activity/domain"
	activityout "dwell/internal/modules/activity/port/out"
)

const (
	defaultStartTimeout = 3 * time.Second
	defaultCallTimeout  = 2 * time.Second
)

// Host keeps one probe plugin process running and reconnects on failure.
type Host struct {
	binary string
	logger slog.Logger

	mu     sync.Mutex
	client *plugin.Client
	rpc    Client
}

func NewHost(binary string, logger slog.Logger) *Host {
	return &Host{binary: binary, logger: logger.Named("probe")}
}

var _ activityout.Probe = (*Host)(nil)

// Connect starts the plugin, retrying with backoff until it answers or ctx
// is done.
func (h *Host) Connect(ctx context.Context) (Metadata, error) {
	var lastErr error
	for r := retry.New(250*time.Millisecond, 5*time.Second); r.Wait(ctx); {
		rpc, err := h.ensure()
		if err == nil {
			callCtx, cancel := callContext(ctx)
			meta, metaErr := rpc.GetMetadata(callCtx)
			cancel()
			if metaErr == nil {
				h.logger.Info(ctx, "probe connected", slog.F("name", meta.Name), slog.F("version", meta.Version))
				return *meta, nil
			}
			err = metaErr
			h.reset()
		}
		lastErr = err
		h.logger.Warn(ctx, "probe not ready, retrying", slog.Error(err))
	}
	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return Metadata{}, xerrors.Errorf("connect probe %s: %w", h.binary, lastErr)
}

func (h *Host) ActiveTab(ctx context.Context) (domain.Tab, error) {
	rpc, err := h.ensure()
	if err != nil {
		return domain.Tab{}, err
	}
	callCtx, cancel := callContext(ctx)
	defer cancel()
	tab, err := rpc.ActiveTab(callCtx)
	if err != nil {
		h.reset()
		return domain.Tab{}, xerrors.Errorf("active tab: %w", err)
	}
	return domain.Tab{URL: tab.URL, Focused: tab.Focused, Idle: tab.Idle}, nil
}

func (h *Host) Poll(ctx context.Context) ([]domain.Signal, error) {
	rpc, err := h.ensure()
	if err != nil {
		return nil, err
	}
	callCtx, cancel := callContext(ctx)
	defer cancel()
	resp, err := rpc.Poll(callCtx)
	if err != nil {
		h.reset()
		return nil, xerrors.Errorf("poll: %w", err)
	}
	out := make([]domain.Signal, 0, len(resp.Signals))
	for _, s := range resp.Signals {
		out = append(out, domain.Signal{
			Kind:      domain.SignalKind(s.Kind),
			URL:       s.URL,
			Active:    s.Active,
			Focused:   s.Focused,
			IdleState: domain.IdleState(s.IdleState),
			At:        s.At,
		})
	}
	return out, nil
}

func (h *Host) Close() error {
	h.reset()
	return nil
}

func (h *Host) ensure() (Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rpc != nil && !h.client.Exited() {
		return h.rpc, nil
	}
	if h.client != nil {
		h.client.Kill()
	}
	h.client, h.rpc = nil, nil

	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  HandshakeConfig,
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolGRPC},
		Plugins:          PluginMap(nil),
		Cmd:              exec.Command(h.binary),
		Managed:          true,
		StartTimeout:     defaultStartTimeout,
		Logger:           hclog.New(&hclog.LoggerOptions{Output: io.Discard, Level: hclog.NoLevel}),
	})
	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, xerrors.Errorf("start probe client: %w", err)
	}
	raw, err := rpcClient.Dispense(PluginMapKey)
	if err != nil {
		client.Kill()
		return nil, xerrors.Errorf("dispense probe: %w", err)
	}
	typed, ok := raw.(Client)
	if !ok {
		client.Kill()
		return nil, xerrors.New("probe rpc client type mismatch")
	}
	h.client, h.rpc = client, typed
	return typed, nil
}

func (h *Host) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.client != nil {
		h.client.Kill()
	}
	h.client, h.rpc = nil, nil
}

func callContext(parent context.Context) (context.Context, context.CancelFunc) {
	if _, ok := parent.Deadline(); ok {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, defaultCallTimeout)
}
