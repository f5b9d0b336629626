package grpc

import (
	"context"

	"github.com/CoolE88/mission-telemetry-service/internal/domain"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client тонкая обёртка над соединением: вызывает методы MissionService и
// раскладывает Struct ответов в типизированные структуры
type Client struct {
	conn *grpc.ClientConn
}

func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}

	conn, err := grpc.NewClient(target, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, in proto.Message, reply any) error {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return err
	}
	return fromStruct(out, reply)
}

func (c *Client) StartMission(ctx context.Context) (*MissionReply, error) {
	out := new(MissionReply)
	if err := c.call(ctx, "StartMission", &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) EndMission(ctx context.Context, missionID string) (*MissionReply, error) {
	out := new(MissionReply)
	if err := c.call(ctx, "EndMission", wrapperspb.String(missionID), out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetMission(ctx context.Context, missionID string) (*MissionReply, error) {
	out := new(MissionReply)
	if err := c.call(ctx, "GetMission", wrapperspb.String(missionID), out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListMissions(ctx context.Context) (*MissionsReply, error) {
	out := new(MissionsReply)
	if err := c.call(ctx, "ListMissions", &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetTelemetry(ctx context.Context, missionID string, limit int) (*TelemetryReply, error) {
	req, err := toStruct(&TelemetryRequest{MissionID: missionID, Limit: limit})
	if err != nil {
		return nil, err
	}

	out := new(TelemetryReply)
	if err := c.call(ctx, "GetTelemetry", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetStatus(ctx context.Context) (*domain.Status, error) {
	out := new(domain.Status)
	if err := c.call(ctx, "GetStatus", &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Subscription серверный поток событий одной миссии
type Subscription struct {
	stream grpc.ClientStream
}

// Recv блокируется до следующего события; io.EOF означает, что сервер закрыл поток
func (s *Subscription) Recv() (*Event, error) {
	st := new(structpb.Struct)
	if err := s.stream.RecvMsg(st); err != nil {
		return nil, err
	}

	ev := new(Event)
	if err := fromStruct(st, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// SubscribeTelemetry открывает поток. Ошибки вроде NotFound приходят из первого Recv.
func (c *Client) SubscribeTelemetry(ctx context.Context, missionID string) (*Subscription, error) {
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], fullMethod("SubscribeTelemetry"))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(wrapperspb.String(missionID)); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &Subscription{stream: stream}, nil
}
