// Package probe is the host side of the device signal plugin. A probe is a
// separate binary speaking gRPC with a JSON codec over go-plugin.
package probe

import (
	"context"
	"encoding/json"

	"github.com/hashicorp/go-plugin"
	"golang.org/x/xerrors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

const (
	PluginMapKey   = "probe"
	serviceName    = "dwell.probe.v1.Probe"
	jsonCodecName  = "json"
	methodMetadata = "/" + serviceName + "/GetMetadata"
	methodActive   = "/" + serviceName + "/ActiveTab"
	methodPoll     = "/" + serviceName + "/Poll"
)

var HandshakeConfig = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "DWELL_PROBE",
	MagicCookieValue: "dwell",
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type Empty struct{}

type Metadata struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type Tab struct {
	URL     string `json:"url"`
	Focused bool   `json:"focused"`
	Idle    bool   `json:"idle"`
}

type Signal struct {
	Kind      string `json:"kind"`
	URL       string `json:"url,omitempty"`
	Active    bool   `json:"active,omitempty"`
	Focused   bool   `json:"focused,omitempty"`
	IdleState string `json:"idle_state,omitempty"`
	At        int64  `json:"at,omitempty"`
}

type PollResponse struct {
	Signals []Signal `json:"signals"`
}

type Server interface {
	GetMetadata(ctx context.Context, in *Empty) (*Metadata, error)
	ActiveTab(ctx context.Context, in *Empty) (*Tab, error)
	Poll(ctx context.Context, in *Empty) (*PollResponse, error)
}

type Client interface {
	GetMetadata(ctx context.Context) (*Metadata, error)
	ActiveTab(ctx context.Context) (*Tab, error)
	Poll(ctx context.Context) (*PollResponse, error)
}

type grpcClient struct {
	conn *grpc.ClientConn
}

func NewClient(conn *grpc.ClientConn) Client {
	return &grpcClient{conn: conn}
}

func (c *grpcClient) GetMetadata(ctx context.Context) (*Metadata, error) {
	out := &Metadata{}
	return out, c.conn.Invoke(ctx, methodMetadata, &Empty{}, out, grpc.CallContentSubtype(jsonCodecName))
}

func (c *grpcClient) ActiveTab(ctx context.Context) (*Tab, error) {
	out := &Tab{}
	return out, c.conn.Invoke(ctx, methodActive, &Empty{}, out, grpc.CallContentSubtype(jsonCodecName))
}

func (c *grpcClient) Poll(ctx context.Context) (*PollResponse, error) {
	out := &PollResponse{}
	return out, c.conn.Invoke(ctx, methodPoll, &Empty{}, out, grpc.CallContentSubtype(jsonCodecName))
}

// unary adapts a typed handler with an empty request to grpc.MethodDesc.
func unary[R any](name string, call func(context.Context, *Empty) (R, error)) grpc.MethodDesc {
	full := "/" + serviceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := &Empty{}
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				empty, ok := req.(*Empty)
				if !ok {
					return nil, xerrors.Errorf("invalid request type %T", req)
				}
				return call(ctx, empty)
			})
		},
	}
}

func RegisterServer(server grpc.ServiceRegistrar, impl Server) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*Server)(nil),
		Methods: []grpc.MethodDesc{
			unary("GetMetadata", impl.GetMetadata),
			unary("ActiveTab", impl.ActiveTab),
			unary("Poll", impl.Poll),
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "probe-v1.proto",
	}, impl)
}

type GRPCPlugin struct {
	plugin.NetRPCUnsupportedPlugin
	Impl Server
}

func (p *GRPCPlugin) GRPCServer(_ *plugin.GRPCBroker, server *grpc.Server) error {
	RegisterServer(server, p.Impl)
	return nil
}

func (p *GRPCPlugin) GRPCClient(_ context.Context, _ *plugin.GRPCBroker, conn *grpc.ClientConn) (any, error) {
	return NewClient(conn), nil
}

func PluginMap(impl Server) map[string]plugin.Plugin {
	return map[string]plugin.Plugin{
		PluginMapKey: &GRPCPlugin{Impl: impl},
	}
}

// Serve runs impl as a probe plugin process. It blocks until the host
// disconnects.
func Serve(impl Server) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins:         PluginMap(impl),
		GRPCServer:      plugin.DefaultGRPCServer,
	})
}
