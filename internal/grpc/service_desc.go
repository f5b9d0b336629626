package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const serviceName = "telemetry.v1.MissionService"

// MissionServiceServer контракт сервиса на well-known типах protobuf:
// идентификатор миссии идёт как StringValue, ответы и события потока как Struct
// с теми же полями, что и JSON конверты WebSocket
type MissionServiceServer interface {
	StartMission(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	EndMission(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
	GetMission(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
	ListMissions(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	GetTelemetry(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetStatus(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	SubscribeTelemetry(req *wrapperspb.StringValue, stream grpc.ServerStream) error
}

var _ MissionServiceServer = (*GRPCServer)(nil)

func fullMethod(name string) string {
	return "/" + serviceName + "/" + name
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*MissionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("StartMission", MissionServiceServer.StartMission),
		unary("EndMission", MissionServiceServer.EndMission),
		unary("GetMission", MissionServiceServer.GetMission),
		unary("ListMissions", MissionServiceServer.ListMissions),
		unary("GetTelemetry", MissionServiceServer.GetTelemetry),
		unary("GetStatus", MissionServiceServer.GetStatus),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "SubscribeTelemetry",
			Handler:       subscribeTelemetryHandler,
			ServerStreams: true,
		},
	},
}

// unary собирает MethodDesc так же, как это делает сгенерированный код
func unary[Req, Resp any](name string, call func(MissionServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(MissionServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: fullMethod(name),
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(MissionServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func subscribeTelemetryHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(MissionServiceServer).SubscribeTelemetry(in, stream)
}
