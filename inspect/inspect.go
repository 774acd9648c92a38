// Package inspect exposes a manager over gRPC for diagnostics. The service is
// registered from a hand-written [grpc.ServiceDesc] and its messages are
// plain Go structs carried as JSON, so no protobuf generation is involved.
// Importing the package installs a codec that JSON-encodes inspect messages
// and hands every other message to the protobuf codec.
package inspect

import (
	"context"
	"errors"

	"github.com/Keksclan/tiercache/invalidate"
	"github.com/Keksclan/tiercache/manager"
	"github.com/Keksclan/tiercache/storage"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "tiercache.Inspect"

type StatsRequest struct{}

type StatsResponse struct {
	Stats manager.Stats `json:"stats"`
}

type KeysRequest struct {
	Prefix string `json:"prefix,omitempty"`
}

type KeysResponse struct {
	Keys []string `json:"keys"`
}

type GetRequest struct {
	Key string `json:"key"`
}

type GetResponse struct {
	Found bool           `json:"found"`
	Entry *storage.Entry `json:"entry,omitempty"`
}

type DeleteRequest struct {
	Key string `json:"key"`
}

type DeleteResponse struct{}

type ClearRequest struct{}

type ClearResponse struct{}

type InvalidateRequest struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

type InvalidateResponse struct {
	Keys []string `json:"keys"`
}

// message is implemented by every type the JSON codec handles.
type message interface{ inspectMessage() }

func (*StatsRequest) inspectMessage()       {}
func (*StatsResponse) inspectMessage()      {}
func (*KeysRequest) inspectMessage()        {}
func (*KeysResponse) inspectMessage()       {}
func (*GetRequest) inspectMessage()         {}
func (*GetResponse) inspectMessage()        {}
func (*DeleteRequest) inspectMessage()      {}
func (*DeleteResponse) inspectMessage()     {}
func (*ClearRequest) inspectMessage()       {}
func (*ClearResponse) inspectMessage()      {}
func (*InvalidateRequest) inspectMessage()  {}
func (*InvalidateResponse) inspectMessage() {}

// Handler is the server side of the service.
type Handler interface {
	Stats(context.Context, *StatsRequest) (*StatsResponse, error)
	Keys(context.Context, *KeysRequest) (*KeysResponse, error)
	Get(context.Context, *GetRequest) (*GetResponse, error)
	Delete(context.Context, *DeleteRequest) (*DeleteResponse, error)
	Clear(context.Context, *ClearRequest) (*ClearResponse, error)
	Invalidate(context.Context, *InvalidateRequest) (*InvalidateResponse, error)
}

// Backend is the part of the manager the service reads and mutates.
type Backend interface {
	Stats(ctx context.Context) (manager.Stats, error)
	Keys(ctx context.Context, prefix string) ([]string, error)
	GetEntry(ctx context.Context, key string) (*storage.Entry, error)
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

type service struct {
	b     Backend
	graph *invalidate.Graph
}

// HandlerOption configures the handler returned by NewHandler.
type HandlerOption func(*service)

// WithGraph sets the relationship table used by Invalidate.
func WithGraph(g *invalidate.Graph) HandlerOption {
	return func(s *service) {
		if g != nil {
			s.graph = g
		}
	}
}

// NewHandler serves b.
func NewHandler(b Backend, opts ...HandlerOption) Handler {
	s := &service{b: b, graph: invalidate.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *service) Stats(ctx context.Context, _ *StatsRequest) (*StatsResponse, error) {
	st, err := s.b.Stats(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &StatsResponse{Stats: st}, nil
}

func (s *service) Keys(ctx context.Context, req *KeysRequest) (*KeysResponse, error) {
	keys, err := s.b.Keys(ctx, req.Prefix)
	if err != nil {
		return nil, toStatus(err)
	}
	return &KeysResponse{Keys: keys}, nil
}

func (s *service) Get(ctx context.Context, req *GetRequest) (*GetResponse, error) {
	e, err := s.b.GetEntry(ctx, req.Key)
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetResponse{Found: e != nil, Entry: e}, nil
}

func (s *service) Delete(ctx context.Context, req *DeleteRequest) (*DeleteResponse, error) {
	if err := s.b.Delete(ctx, req.Key); err != nil {
		return nil, toStatus(err)
	}
	return &DeleteResponse{}, nil
}

func (s *service) Clear(ctx context.Context, _ *ClearRequest) (*ClearResponse, error) {
	if err := s.b.Clear(ctx); err != nil {
		return nil, toStatus(err)
	}
	return &ClearResponse{}, nil
}

func (s *service) Invalidate(ctx context.Context, req *InvalidateRequest) (*InvalidateResponse, error) {
	if req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	keys, err := s.graph.Invalidate(ctx, s.b, invalidate.Kind(req.Kind), req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &InvalidateResponse{Keys: keys}, nil
}

// toStatus maps manager and storage errors onto gRPC codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, manager.ErrNotConfigured):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, manager.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	}
	switch storage.CodeOf(err) {
	case storage.InvalidKey:
		return status.Error(codes.InvalidArgument, err.Error())
	case storage.NotSupported:
		return status.Error(codes.Unavailable, err.Error())
	case storage.QuotaExceeded:
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

func method[Req any, Resp any](name string, call func(Handler, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	full := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, r any) (any, error) {
				return call(srv.(Handler), ctx, r.(*Req))
			}
			if interceptor == nil {
				return handler(ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			return interceptor(ctx, req, info, handler)
		},
	}
}

// ServiceDesc describes tiercache.Inspect.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		method("Stats", Handler.Stats),
		method("Keys", Handler.Keys),
		method("Get", Handler.Get),
		method("Delete", Handler.Delete),
		method("Clear", Handler.Clear),
		method("Invalidate", Handler.Invalidate),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tiercache/inspect.proto",
}

// Register installs h on s.
func Register(s grpc.ServiceRegistrar, h Handler) {
	s.RegisterService(&ServiceDesc, h)
}
