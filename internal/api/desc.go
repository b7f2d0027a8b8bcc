package api

import (
	"context"

	"google.golang.org/grpc"

	"github.com/understudy-ai/understudy-backend/internal/domain"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "understudy.v1.Understudy"

// UnderstudyServer is the handler set for the service. There is no
// generated code; the service descriptor below is maintained by hand.
type UnderstudyServer interface {
	CreateBrain(ctx context.Context, req *CreateBrainRequest) (*domain.Brain, error)
	GetBrain(ctx context.Context, req *GetBrainRequest) (*domain.Brain, error)
	ListBrains(ctx context.Context, req *ListBrainsRequest) (*ListBrainsResponse, error)
	CreateSession(ctx context.Context, req *CreateSessionRequest) (*domain.Session, error)
	GetSession(ctx context.Context, req *GetSessionRequest) (*domain.Session, error)
	GetSessionByIndex(ctx context.Context, req *GetSessionByIndexRequest) (*domain.Session, error)
	ListSessions(ctx context.Context, req *ListSessionsRequest) (*ListSessionsResponse, error)
	GetSessionCount(ctx context.Context, req *GetSessionCountRequest) (*GetSessionCountResponse, error)
	StopSession(ctx context.Context, req *StopSessionRequest) (*StopSessionResponse, error)
	ListEpisodeChunks(ctx context.Context, req *ListEpisodeChunksRequest) (*ListEpisodeChunksResponse, error)
	SubmitEpisodeChunks(ctx context.Context, req *SubmitEpisodeChunksRequest) (*SubmitEpisodeChunksResponse, error)
	GetModel(ctx context.Context, req *GetModelRequest) (*GetModelResponse, error)
}

// Register attaches an implementation to a gRPC server.
func Register(s *grpc.Server, srv UnderstudyServer) {
	s.RegisterService(&serviceDesc, srv)
}

func unaryHandler[Req any, Resp any](
	method string,
	call func(UnderstudyServer, context.Context, *Req) (*Resp, error),
) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(UnderstudyServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + ServiceName + "/" + method,
		}
		return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(UnderstudyServer), ctx, req.(*Req))
		})
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*UnderstudyServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateBrain", Handler: unaryHandler("CreateBrain", UnderstudyServer.CreateBrain)},
		{MethodName: "GetBrain", Handler: unaryHandler("GetBrain", UnderstudyServer.GetBrain)},
		{MethodName: "ListBrains", Handler: unaryHandler("ListBrains", UnderstudyServer.ListBrains)},
		{MethodName: "CreateSession", Handler: unaryHandler("CreateSession", UnderstudyServer.CreateSession)},
		{MethodName: "GetSession", Handler: unaryHandler("GetSession", UnderstudyServer.GetSession)},
		{MethodName: "GetSessionByIndex", Handler: unaryHandler("GetSessionByIndex", UnderstudyServer.GetSessionByIndex)},
		{MethodName: "ListSessions", Handler: unaryHandler("ListSessions", UnderstudyServer.ListSessions)},
		{MethodName: "GetSessionCount", Handler: unaryHandler("GetSessionCount", UnderstudyServer.GetSessionCount)},
		{MethodName: "StopSession", Handler: unaryHandler("StopSession", UnderstudyServer.StopSession)},
		{MethodName: "ListEpisodeChunks", Handler: unaryHandler("ListEpisodeChunks", UnderstudyServer.ListEpisodeChunks)},
		{MethodName: "SubmitEpisodeChunks", Handler: unaryHandler("SubmitEpisodeChunks", UnderstudyServer.SubmitEpisodeChunks)},
		{MethodName: "GetModel", Handler: unaryHandler("GetModel", UnderstudyServer.GetModel)},
	},
	Streams: []grpc.StreamDesc{},
}
