package hub

import (
	"errors"
	"sync"

	"github.com/CoolE88/mission-telemetry-service/internal/metrics"

	"go.uber.org/zap"
)

var (
	// ErrHandleClosed транспорт хэндла уже закрыт
	ErrHandleClosed = errors.New("handle closed")
	// ErrSlowConsumer очередь исходящих сообщений хэндла переполнена
	ErrSlowConsumer = errors.New("subscriber queue full")
)

// Handle живое соединение подписчика. Deliver не должен блокироваться:
// сообщение ставится в очередь или отклоняется.
type Handle interface {
	ID() string
	Deliver(msg any) error
	Done() <-chan struct{}
}

// FinalHandle хэндл с отдельным слотом под финальное сообщение миссии.
// Такое сообщение не отбрасывается из-за переполненной очереди.
type FinalHandle interface {
	DeliverFinal(msg any) error
}

// Hub реестр подписчиков по миссиям. Хэндл подписан не больше чем на одну миссию.
type Hub struct {
	mu       sync.RWMutex
	missions map[string]map[string]Handle // missionID -> handleID -> handle
	owners   map[string]string            // handleID -> missionID
	logger   *zap.Logger
}

func New(logger *zap.Logger) *Hub {
	return &Hub{
		missions: make(map[string]map[string]Handle),
		owners:   make(map[string]string),
		logger:   logger,
	}
}

// Subscribe регистрирует хэндл на миссию и сразу доставляет greeting.
// Приветствие уходит под блокировкой, поэтому ни одна рассылка не обгонит его.
// Повторная подписка переносит хэндл с прежней миссии.
func (h *Hub) Subscribe(missionID string, handle Handle, greeting ...any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := handle.ID()
	if prev, ok := h.owners[id]; ok && prev != missionID {
		h.removeLocked(prev, id)
	}

	set, ok := h.missions[missionID]
	if !ok {
		set = make(map[string]Handle)
		h.missions[missionID] = set
	}
	set[id] = handle
	h.owners[id] = missionID
	metrics.ConnectedSubscribers.Set(float64(len(h.owners)))

	for _, msg := range greeting {
		if err := handle.Deliver(msg); err != nil {
			h.logger.Warn("[Hub] Failed to deliver greeting",
				zap.String("mission_id", missionID),
				zap.String("handle_id", id),
				zap.Error(err))
		}
	}

	h.logger.Info("[Hub] Handle subscribed",
		zap.String("mission_id", missionID),
		zap.String("handle_id", id))
}

// Unsubscribe снимает хэндл с миссии; если его там нет, ничего не делает
func (h *Hub) Unsubscribe(missionID string, handle Handle) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := handle.ID()
	if h.owners[id] != missionID {
		return false
	}
	h.removeLocked(missionID, id)
	metrics.ConnectedSubscribers.Set(float64(len(h.owners)))

	h.logger.Info("[Hub] Handle unsubscribed",
		zap.String("mission_id", missionID),
		zap.String("handle_id", id))
	return true
}

// Remove снимает хэндл с любой миссии, вызывается при отключении
func (h *Hub) Remove(handle Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := handle.ID()
	missionID, ok := h.owners[id]
	if !ok {
		return
	}
	h.removeLocked(missionID, id)
	metrics.ConnectedSubscribers.Set(float64(len(h.owners)))
}

func (h *Hub) removeLocked(missionID, handleID string) {
	delete(h.owners, handleID)
	set := h.missions[missionID]
	delete(set, handleID)
	if len(set) == 0 {
		delete(h.missions, missionID)
	}
}

// Broadcast доставляет сообщение всем текущим подписчикам миссии.
// Закрытые хэндлы пропускаются молча, их уберёт собственный обработчик отключения.
// Возвращает число успешных доставок.
func (h *Hub) Broadcast(missionID string, msg any) int {
	return h.broadcast(missionID, msg, false)
}

// BroadcastFinal как Broadcast, но хэндлам с FinalHandle сообщение уходит мимо общей очереди.
// Используется для сообщения о завершении миссии.
func (h *Hub) BroadcastFinal(missionID string, msg any) int {
	return h.broadcast(missionID, msg, true)
}

func (h *Hub) broadcast(missionID string, msg any, final bool) int {
	h.mu.RLock()
	set := h.missions[missionID]
	handles := make([]Handle, 0, len(set))
	for _, handle := range set {
		handles = append(handles, handle)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, handle := range handles {
		select {
		case <-handle.Done():
			continue
		default:
		}

		var err error
		if fh, ok := handle.(FinalHandle); ok && final {
			err = fh.DeliverFinal(msg)
		} else {
			err = handle.Deliver(msg)
		}

		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrHandleClosed):
			// закрылся между проверкой и доставкой
		default:
			metrics.BroadcastFailures.WithLabelValues(failureReason(err)).Inc()
			h.logger.Warn("[Hub] Failed to deliver message",
				zap.String("mission_id", missionID),
				zap.String("handle_id", handle.ID()),
				zap.Error(err))
		}
	}

	return delivered
}

func (h *Hub) CountFor(missionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.missions[missionID])
}

func (h *Hub) CountAll() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.owners)
}

// Clear забывает всех подписчиков, соединения при этом не закрываются
func (h *Hub) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.missions = make(map[string]map[string]Handle)
	h.owners = make(map[string]string)
	metrics.ConnectedSubscribers.Set(0)
}

func failureReason(err error) string {
	if errors.Is(err, ErrSlowConsumer) {
		return "slow_consumer"
	}
	return "transport"
}
