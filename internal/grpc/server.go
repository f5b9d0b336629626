package grpc

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/CoolE88/mission-telemetry-service/internal/domain"
	"github.com/CoolE88/mission-telemetry-service/internal/hub"
	"github.com/CoolE88/mission-telemetry-service/internal/metrics"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// MissionService описывает бизнес-логику миссий, нужную gRPC слою
type MissionService interface {
	StartMission(ctx context.Context) (*domain.Mission, error)
	EndMission(ctx context.Context, missionID string) (*domain.Mission, error)
	GetMission(ctx context.Context, missionID string) (*domain.Mission, error)
	ListMissions(ctx context.Context) ([]*domain.Mission, error)
	TelemetryHistory(ctx context.Context, missionID string, limit int) ([]*domain.TelemetrySample, error)
	Status(ctx context.Context) (domain.Status, error)
	ConnectedClients(missionID string) int
	Subscribe(ctx context.Context, missionID string, h hub.Handle) error
	Disconnect(h hub.Handle)
}

// GRPCServer реализует gRPC сервер с метриками и логированием
type GRPCServer struct {
	server           *grpc.Server
	service          MissionService
	subscriberBuffer int
	logger           *zap.Logger
}

func NewGRPCServer(service MissionService, subscriberBuffer int, logger *zap.Logger) *GRPCServer {
	loggingOpts := []logging.Option{logging.WithLogOnEvents(logging.FinishCall)}

	unaryChain := grpc.ChainUnaryInterceptor(
		logging.UnaryServerInterceptor(interceptorLogger(logger), loggingOpts...),
		grpc_prometheus.UnaryServerInterceptor,
		unaryMetricsInterceptor(),
	)
	streamChain := grpc.ChainStreamInterceptor(
		logging.StreamServerInterceptor(interceptorLogger(logger), loggingOpts...),
		grpc_prometheus.StreamServerInterceptor,
		streamMetricsInterceptor(),
	)

	s := &GRPCServer{
		server:           grpc.NewServer(unaryChain, streamChain),
		service:          service,
		subscriberBuffer: subscriberBuffer,
		logger:           logger,
	}

	s.server.RegisterService(&serviceDesc, s)

	grpc_prometheus.Register(s.server)
	grpc_prometheus.EnableHandlingTimeHistogram()

	return s
}

func (s *GRPCServer) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.logger.Info("Starting gRPC server", zap.String("addr", addr))
	return s.Serve(lis)
}

func (s *GRPCServer) Serve(lis net.Listener) error {
	return s.server.Serve(lis)
}

func (s *GRPCServer) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down gRPC server")

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.server.Stop()
		return ctx.Err()
	}
}

func statusCode(err error) string {
	if err == nil {
		return codes.OK.String()
	}
	if st, ok := status.FromError(err); ok {
		return st.Code().String()
	}
	return codes.Unknown.String()
}

// Custom metrics interceptor для детального отслеживания статусов и длительности с статусом
func unaryMetricsInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		code := statusCode(err)
		metrics.GRPCRequests.WithLabelValues(info.FullMethod, code).Inc()
		metrics.GRPCRequestDuration.WithLabelValues(info.FullMethod, code).Observe(time.Since(start).Seconds())

		return resp, err
	}
}

// то же для потоков: длительность считается на всю жизнь подписки
func streamMetricsInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()

		err := handler(srv, ss)

		code := statusCode(err)
		metrics.GRPCRequests.WithLabelValues(info.FullMethod, code).Inc()
		metrics.GRPCRequestDuration.WithLabelValues(info.FullMethod, code).Observe(time.Since(start).Seconds())

		return err
	}
}

// Logger adapter для grpc middleware
func interceptorLogger(l *zap.Logger) logging.Logger {
	return logging.LoggerFunc(func(_ context.Context, lvl logging.Level, msg string, fields ...any) {
		f := make([]zap.Field, 0, len(fields)/2)
		for i := 0; i+1 < len(fields); i += 2 {
			key, ok := fields[i].(string)
			if !ok {
				continue
			}
			f = append(f, zap.Any(key, fields[i+1]))
		}
		logger := l.WithOptions(zap.AddCallerSkip(1)).With(f...)

		switch lvl {
		case logging.LevelDebug:
			logger.Debug(msg)
		case logging.LevelInfo:
			logger.Info(msg)
		case logging.LevelWarn:
			logger.Warn(msg)
		case logging.LevelError:
			logger.Error(msg)
		default:
			logger.Info(msg)
		}
	})
}

// toStatus переводит доменные ошибки в коды gRPC
func (s *GRPCServer) toStatus(err error, op string) error {
	switch {
	case errors.Is(err, domain.ErrMissionNotFound):
		return status.Error(codes.NotFound, domain.ErrTextMissionNotFound)
	case errors.Is(err, domain.ErrMissionAlreadyCompleted):
		return status.Error(codes.FailedPrecondition, "Mission is already completed")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		s.logger.Error("gRPC call failed", zap.String("op", op), zap.Error(err))
		return status.Error(codes.Internal, "failed to "+op)
	}
}

func requireMissionID(id string) error {
	if id == "" {
		return status.Error(codes.InvalidArgument, "missionId is required")
	}
	return nil
}

// reply упаковывает ответ в Struct
func (s *GRPCServer) reply(v any) (*structpb.Struct, error) {
	st, err := toStruct(v)
	if err != nil {
		s.logger.Error("Failed to encode gRPC reply", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to encode reply")
	}
	return st, nil
}

func (s *GRPCServer) StartMission(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	m, err := s.service.StartMission(ctx)
	if err != nil {
		return nil, s.toStatus(err, "create mission")
	}
	return s.reply(&MissionReply{Mission: m})
}

func (s *GRPCServer) EndMission(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	missionID := req.GetValue()
	if err := requireMissionID(missionID); err != nil {
		return nil, err
	}

	m, err := s.service.EndMission(ctx, missionID)
	if err != nil {
		return nil, s.toStatus(err, "end mission")
	}
	return s.reply(&MissionReply{Mission: m, ConnectedClients: s.service.ConnectedClients(m.ID)})
}

func (s *GRPCServer) GetMission(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	missionID := req.GetValue()
	if err := requireMissionID(missionID); err != nil {
		return nil, err
	}

	m, err := s.service.GetMission(ctx, missionID)
	if err != nil {
		return nil, s.toStatus(err, "get mission")
	}
	return s.reply(&MissionReply{Mission: m, ConnectedClients: s.service.ConnectedClients(m.ID)})
}

func (s *GRPCServer) ListMissions(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	missions, err := s.service.ListMissions(ctx)
	if err != nil {
		return nil, s.toStatus(err, "get missions")
	}
	return s.reply(&MissionsReply{Missions: missions})
}

func (s *GRPCServer) GetTelemetry(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in TelemetryRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid telemetry request")
	}
	if err := requireMissionID(in.MissionID); err != nil {
		return nil, err
	}
	if in.Limit < 0 {
		return nil, status.Error(codes.InvalidArgument, "limit must not be negative")
	}

	samples, err := s.service.TelemetryHistory(ctx, in.MissionID, in.Limit)
	if err != nil {
		return nil, s.toStatus(err, "get mission telemetry")
	}
	return s.reply(&TelemetryReply{MissionID: in.MissionID, Count: len(samples), Telemetry: samples})
}

func (s *GRPCServer) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st, err := s.service.Status(ctx)
	if err != nil {
		return nil, s.toStatus(err, "get status")
	}
	return s.reply(&st)
}

// SubscribeTelemetry сам поток является хэндлом подписчика. Поток закрывается,
// когда миссия завершилась или клиент ушёл.
func (s *GRPCServer) SubscribeTelemetry(req *wrapperspb.StringValue, stream grpc.ServerStream) error {
	missionID := req.GetValue()
	if err := requireMissionID(missionID); err != nil {
		return err
	}

	ctx := stream.Context()
	q := hub.NewQueue(uuid.NewString(), s.subscriberBuffer)
	defer func() {
		q.Close()
		s.service.Disconnect(q)
	}()

	if err := s.service.Subscribe(ctx, missionID, q); err != nil {
		return s.toStatus(err, "subscribe to mission")
	}

	send := func(msg any) error {
		st, err := toStruct(msg)
		if err == nil {
			err = stream.SendMsg(st)
		}
		if err != nil {
			s.logger.Warn("Failed to send stream message",
				zap.String("mission_id", missionID),
				zap.String("handle_id", q.ID()),
				zap.Error(err))
		}
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-q.Messages():
			if err := send(msg); err != nil {
				return err
			}
		case final := <-q.Final():
			// финальное сообщение не теряется даже при переполненной очереди,
			// всё накопленное до него уходит первым
			for _, msg := range append(q.Drain(), final) {
				if err := send(msg); err != nil {
					return err
				}
			}
			if _, ended := final.(domain.MissionEndedMessage); ended {
				return nil
			}
		}
	}
}
