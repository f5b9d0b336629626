package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/CoolE88/mission-telemetry-service/internal/domain"
	"github.com/CoolE88/mission-telemetry-service/internal/hub"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const errTextSubscribeFailed = "Failed to subscribe to mission"

// maxClientMessageSize команды клиента короткие, всё длиннее отклоняется ответом об ошибке
const maxClientMessageSize = 4096

func isWebSocketUpgrade(r *http.Request, _ *mux.RouteMatch) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// serveWebSocket держит одно соединение подписчика. Чтение команд идёт в этой горутине,
// запись из очереди хэндла в отдельной.
func (s *HTTPServer) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()
	// лимит библиотеки закрыл бы соединение, длину сообщения проверяет readClientMessage
	conn.SetReadLimit(-1)

	q := hub.NewQueue(uuid.NewString(), s.subscriberBuffer)
	logger := s.logger.With(zap.String("handle_id", q.ID()), zap.String("ip", r.RemoteAddr))
	logger.Info("WebSocket client connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		cancel()
		q.Close()
		s.service.Disconnect(q)
		logger.Info("WebSocket client disconnected")
	}()

	go s.writeLoop(ctx, cancel, conn, q, logger)

	for {
		data, err := readClientMessage(ctx, conn)
		if errors.Is(err, errMessageTooLarge) {
			logger.Warn("WebSocket message too large", zap.Int("limit", maxClientMessageSize))
			s.reply(q, domain.NewErrorMessage(domain.ErrTextInvalidMessage, ""), logger)
			continue
		}
		if err != nil {
			if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
				logger.Debug("WebSocket read failed", zap.Error(err))
			}
			return
		}
		s.handleClientMessage(ctx, q, data, logger)
	}
}

var errMessageTooLarge = errors.New("client message too large")

// readClientMessage читает одно сообщение не длиннее maxClientMessageSize.
// Хвост слишком длинного сообщения вычитывается и отбрасывается, соединение остаётся рабочим.
func readClientMessage(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	_, r, err := conn.Reader(ctx)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(r, maxClientMessageSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxClientMessageSize {
		if _, err := io.Copy(io.Discard, r); err != nil {
			return nil, err
		}
		return nil, errMessageTooLarge
	}
	return data, nil
}

// writeLoop единственный писатель в соединение. Зависшая запись закрывает соединение по таймауту.
func (s *HTTPServer) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, q *hub.Queue, logger *zap.Logger) {
	defer cancel()

	write := func(msg any) bool {
		writeCtx, writeCancel := context.WithTimeout(ctx, s.writeTimeout)
		err := wsjson.Write(writeCtx, conn, msg)
		writeCancel()
		if err != nil {
			logger.Warn("WebSocket write failed, closing connection", zap.Error(err))
			q.Close()
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-q.Messages():
			if !write(msg) {
				return
			}
		case final := <-q.Final():
			// всё, что пришло раньше финального сообщения, уходит перед ним
			for _, msg := range append(q.Drain(), final) {
				if !write(msg) {
					return
				}
			}
		}
	}
}

func (s *HTTPServer) handleClientMessage(ctx context.Context, q *hub.Queue, data []byte, logger *zap.Logger) {
	var msg domain.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.reply(q, domain.NewErrorMessage(domain.ErrTextInvalidJSON, ""), logger)
		return
	}

	if msg.MissionID == "" {
		s.reply(q, domain.NewErrorMessage(domain.ErrTextInvalidMessage, ""), logger)
		return
	}

	switch msg.Type {
	case domain.MessageSubscribe:
		err := s.service.Subscribe(ctx, msg.MissionID, q)
		if err != nil && !errors.Is(err, domain.ErrMissionNotFound) && !errors.Is(err, domain.ErrMissionAlreadyCompleted) {
			logger.Error("Failed to subscribe", zap.String("mission_id", msg.MissionID), zap.Error(err))
			s.reply(q, domain.NewErrorMessage(errTextSubscribeFailed, msg.MissionID), logger)
		}
	case domain.MessageUnsubscribe:
		s.service.Unsubscribe(msg.MissionID, q)
	default:
		s.reply(q, domain.NewErrorMessage(domain.ErrTextInvalidMessage, ""), logger)
	}
}

func (s *HTTPServer) reply(q *hub.Queue, msg any, logger *zap.Logger) {
	if err := q.Deliver(msg); err != nil {
		logger.Debug("Failed to queue reply", zap.Error(err))
	}
}
