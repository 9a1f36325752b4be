package out

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/xerrors"

	activity "dwell/internal/modules/activity/domain"
	"dwell/internal/modules/syncer/domain"
	syncerout "dwell/internal/modules/syncer/port/out"
)

const (
	rpcService  = "Dwell"
	callTimeout = 30 * time.Second
)

type JSONRPCServer struct{}

type JSONRPCClient struct{}

func NewJSONRPCServer() *JSONRPCServer {
	return &JSONRPCServer{}
}

func NewJSONRPCClient() *JSONRPCClient {
	return &JSONRPCClient{}
}

var (
	_ syncerout.IPCServer = (*JSONRPCServer)(nil)
	_ syncerout.IPCClient = (*JSONRPCClient)(nil)
)

type rpcHandler struct {
	h syncerout.IPCHandler
}

// net/rpc only registers methods whose argument and reply types are
// exported, so the wire types below must stay exported.

type StatusReply struct {
	Status syncerout.DaemonStatus
}

type SignalArgs struct {
	Signal activity.Signal
}

type EmptyArgs struct{}

func (s *rpcHandler) SyncNow(_ EmptyArgs, resp *domain.Result) error {
	result, err := s.h.SyncNow(context.Background())
	if err != nil {
		return err
	}
	*resp = result
	return nil
}

func (s *rpcHandler) Status(_ EmptyArgs, resp *StatusReply) error {
	status, err := s.h.Status(context.Background())
	if err != nil {
		return err
	}
	resp.Status = status
	return nil
}

func (s *rpcHandler) Signal(req SignalArgs, _ *EmptyArgs) error {
	return s.h.Signal(context.Background(), req.Signal)
}

func (s *rpcHandler) Stop(_ EmptyArgs, _ *EmptyArgs) error {
	return s.h.Stop(context.Background())
}

func (s *JSONRPCServer) Serve(ctx context.Context, socketPath string, handler syncerout.IPCHandler) error {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		return xerrors.Errorf("create ipc dir: %w", err)
	}
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return xerrors.Errorf("remove stale ipc socket: %w", err)
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return xerrors.Errorf("listen ipc socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		_ = ln.Close()
		return xerrors.Errorf("chmod ipc socket: %w", err)
	}
	defer ln.Close()

	rpcSrv := rpc.NewServer()
	if err := rpcSrv.RegisterName(rpcService, &rpcHandler{h: handler}); err != nil {
		return xerrors.Errorf("register ipc handler: %w", err)
	}

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-stop:
		}
	}()
	defer close(stop)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		go rpcSrv.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

func (c *JSONRPCClient) SyncNow(ctx context.Context, socketPath string) (domain.Result, error) {
	client, err := dialClient(ctx, socketPath)
	if err != nil {
		return domain.Result{}, err
	}
	defer client.Close()
	resp := domain.Result{}
	if err := client.Call(rpcService+".SyncNow", EmptyArgs{}, &resp); err != nil {
		return domain.Result{}, err
	}
	return resp, nil
}

func (c *JSONRPCClient) Status(ctx context.Context, socketPath string) (syncerout.DaemonStatus, error) {
	client, err := dialClient(ctx, socketPath)
	if err != nil {
		return syncerout.DaemonStatus{}, err
	}
	defer client.Close()
	resp := StatusReply{}
	if err := client.Call(rpcService+".Status", EmptyArgs{}, &resp); err != nil {
		return syncerout.DaemonStatus{}, err
	}
	return resp.Status, nil
}

func (c *JSONRPCClient) Signal(ctx context.Context, socketPath string, sig activity.Signal) error {
	client, err := dialClient(ctx, socketPath)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Call(rpcService+".Signal", SignalArgs{Signal: sig}, &EmptyArgs{})
}

func (c *JSONRPCClient) Stop(ctx context.Context, socketPath string) error {
	client, err := dialClient(ctx, socketPath)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Call(rpcService+".Stop", EmptyArgs{}, &EmptyArgs{})
}

// dialClient reports a missing or dead socket as domain.ErrDaemonUnavailable.
func dialClient(ctx context.Context, socketPath string) (*rpc.Client, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, xerrors.Errorf("dial %s: %v: %w", socketPath, err, domain.ErrDaemonUnavailable)
	}
	deadline := time.Now().Add(callTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	return rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn)), nil
}
