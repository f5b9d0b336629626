package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CoolE88/mission-telemetry-service/internal/config"
	"github.com/CoolE88/mission-telemetry-service/internal/domain"
	"github.com/CoolE88/mission-telemetry-service/internal/hub"
	"github.com/CoolE88/mission-telemetry-service/internal/metrics"
	"github.com/CoolE88/mission-telemetry-service/internal/mission"
	"github.com/CoolE88/mission-telemetry-service/internal/scheduler"
	"github.com/CoolE88/mission-telemetry-service/internal/telemetry"

	"go.uber.org/zap"
)

const (
	reasonManual          = "manual"
	reasonBatteryDepleted = "battery_depleted"

	depletionTimeout = 10 * time.Second
)

// Repository всё, что сервису нужно от хранилища
type Repository interface {
	mission.Repository
	telemetry.Repository
	HealthCheck(ctx context.Context) error
}

type Option func(*options)

type options struct {
	now  func() time.Time
	seed *int64
}

// WithClock общий источник времени для реестра, планировщика и сообщений
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithSeed фиксирует случайность генератора (для тестов)
func WithSeed(seed int64) Option {
	return func(o *options) { o.seed = &seed }
}

// MissionService координирует жизненный цикл миссии: реестр, планировщик тиков и подписчиков
type MissionService struct {
	repo         Repository
	registry     *mission.Registry
	sink         *telemetry.Sink
	hub          *hub.Hub
	scheduler    *scheduler.Scheduler
	locks        *missionLocks
	autoComplete bool
	now          func() time.Time
	logger       *zap.Logger
}

func NewMissionService(repo Repository, cfg *config.Config, logger *zap.Logger, opts ...Option) *MissionService {
	o := options{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(&o)
	}

	s := &MissionService{
		repo:         repo,
		registry:     mission.NewRegistry(repo, logger, mission.WithClock(o.now)),
		hub:          hub.New(logger),
		locks:        newMissionLocks(),
		autoComplete: cfg.Lifecycle.AutoCompleteOnDepletion,
		now:          o.now,
		logger:       logger,
	}
	s.sink = telemetry.NewSink(repo,
		cfg.Telemetry.PersistTimeoutDuration(),
		cfg.Telemetry.HistoryLimit,
		cfg.Telemetry.HistoryMaxLimit,
		logger)

	schedulerOpts := []scheduler.Option{
		scheduler.WithClock(o.now),
		scheduler.WithOnDepleted(s.onBatteryDepleted),
	}
	if o.seed != nil {
		schedulerOpts = append(schedulerOpts, scheduler.WithSeed(*o.seed))
	}
	s.scheduler = scheduler.New(
		cfg.Telemetry.IntervalDuration(),
		telemetry.NewGenerator(cfg.Telemetry),
		s.sink,
		s.hub,
		logger,
		schedulerOpts...,
	)

	return s
}

func (s *MissionService) CheckDBConnection(ctx context.Context) error {
	return s.repo.HealthCheck(ctx)
}

// StartMission создаёт миссию и запускает для неё генерацию телеметрии
func (s *MissionService) StartMission(ctx context.Context) (*domain.Mission, error) {
	m, err := s.registry.Create(ctx)
	if err != nil {
		s.logger.Error("[MissionService] Failed to create mission", zap.Error(err))
		return nil, err
	}

	if err := s.scheduler.Start(m.ID, s.scheduler.Seed()); err != nil {
		s.logger.Error("[MissionService] Failed to start telemetry",
			zap.String("mission_id", m.ID),
			zap.Error(err))
		return nil, fmt.Errorf("start telemetry: %w", err)
	}

	metrics.MissionsStarted.Inc()
	s.logger.Info("[MissionService] Mission started", zap.String("mission_id", m.ID))
	return m, nil
}

// EndMission останавливает таймер и завершает миссию. Подписки не снимаются,
// подписчики получают mission_completed.
func (s *MissionService) EndMission(ctx context.Context, missionID string) (*domain.Mission, error) {
	unlock := s.locks.lock(missionID)
	defer unlock()

	m, err := s.registry.Get(ctx, missionID)
	if err != nil {
		return nil, err
	}
	if !m.IsActive() {
		return nil, domain.ErrMissionAlreadyCompleted
	}

	s.scheduler.Stop(missionID)

	updated, err := s.registry.Complete(ctx, missionID)
	if err != nil {
		if !errors.Is(err, domain.ErrMissionAlreadyCompleted) {
			s.logger.Error("[MissionService] Failed to end mission",
				zap.String("mission_id", missionID),
				zap.Error(err))
		}
		return nil, err
	}

	s.notifyEnded(domain.MessageMissionCompleted, updated)
	metrics.MissionsCompleted.WithLabelValues(reasonManual).Inc()
	return updated, nil
}

// onBatteryDepleted вызывается планировщиком в отдельной горутине, когда батарея дошла до нуля
func (s *MissionService) onBatteryDepleted(missionID string) {
	if !s.autoComplete {
		s.logger.Info("[MissionService] Battery depleted, mission left active",
			zap.String("mission_id", missionID))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), depletionTimeout)
	defer cancel()

	unlock := s.locks.lock(missionID)
	defer unlock()

	s.scheduler.Stop(missionID)

	updated, err := s.registry.Complete(ctx, missionID)
	if err != nil {
		// миссию уже завершили вручную
		if errors.Is(err, domain.ErrMissionAlreadyCompleted) {
			s.logger.Debug("[MissionService] Mission already completed before depletion",
				zap.String("mission_id", missionID))
			return
		}
		s.logger.Error("[MissionService] Failed to complete depleted mission",
			zap.String("mission_id", missionID),
			zap.Error(err))
		return
	}

	s.notifyEnded(domain.MessageBatteryDepleted, updated)
	metrics.MissionsCompleted.WithLabelValues(reasonBatteryDepleted).Inc()
}

func (s *MissionService) notifyEnded(kind string, m *domain.Mission) {
	delivered := s.hub.BroadcastFinal(m.ID, domain.NewMissionEndedMessage(kind, m))
	metrics.BroadcastDeliveries.WithLabelValues(kind).Add(float64(delivered))

	s.logger.Info("[MissionService] Mission ended",
		zap.String("mission_id", m.ID),
		zap.String("reason", kind),
		zap.Int64("total_flight_time", m.TotalFlightTime),
		zap.Int("notified", delivered))
}

// Subscribe подписывает хэндл на активную миссию. Для неизвестной или завершённой миссии
// хэндл получает сообщение об ошибке и в реестр не попадает. Проверка статуса и регистрация
// идут под мьютексом миссии, поэтому завершение не может вклиниться между ними.
func (s *MissionService) Subscribe(ctx context.Context, missionID string, h hub.Handle) error {
	unlock := s.locks.lock(missionID)
	defer unlock()

	m, err := s.registry.Get(ctx, missionID)
	if err != nil {
		if errors.Is(err, domain.ErrMissionNotFound) {
			s.deliverError(h, domain.ErrTextMissionNotFound, missionID)
		}
		return err
	}
	if !m.IsActive() {
		s.deliverError(h, domain.ErrTextMissionAlreadyCompleted, missionID)
		return domain.ErrMissionAlreadyCompleted
	}

	s.hub.Subscribe(missionID, h,
		domain.NewSubscribedMessage(missionID),
		domain.NewMissionUpdateMessage(m, s.now()),
	)
	return nil
}

func (s *MissionService) deliverError(h hub.Handle, text, missionID string) {
	if err := h.Deliver(domain.NewErrorMessage(text, missionID)); err != nil {
		s.logger.Warn("[MissionService] Failed to deliver error",
			zap.String("handle_id", h.ID()),
			zap.Error(err))
	}
}

// Unsubscribe снимает подписку; повторный вызов ничего не делает
func (s *MissionService) Unsubscribe(missionID string, h hub.Handle) bool {
	if !s.hub.Unsubscribe(missionID, h) {
		return false
	}
	if err := h.Deliver(domain.UnsubscribedMessage{Type: domain.MessageUnsubscribed, MissionID: missionID}); err != nil {
		s.logger.Debug("[MissionService] Failed to confirm unsubscribe",
			zap.String("handle_id", h.ID()),
			zap.Error(err))
	}
	return true
}

// Disconnect убирает хэндл из реестра при закрытии соединения
func (s *MissionService) Disconnect(h hub.Handle) {
	s.hub.Remove(h)
}

func (s *MissionService) GetMission(ctx context.Context, missionID string) (*domain.Mission, error) {
	return s.registry.Get(ctx, missionID)
}

func (s *MissionService) ListMissions(ctx context.Context) ([]*domain.Mission, error) {
	missions, err := s.registry.List(ctx)
	if err != nil {
		s.logger.Error("[MissionService] Failed to list missions", zap.Error(err))
		return nil, err
	}
	return missions, nil
}

// TelemetryHistory последние limit сэмплов миссии, новые первыми
func (s *MissionService) TelemetryHistory(ctx context.Context, missionID string, limit int) ([]*domain.TelemetrySample, error) {
	if _, err := s.registry.Get(ctx, missionID); err != nil {
		return nil, err
	}
	return s.sink.History(ctx, missionID, limit)
}

func (s *MissionService) Status(ctx context.Context) (domain.Status, error) {
	counts, err := s.registry.Counts(ctx)
	if err != nil {
		s.logger.Error("[MissionService] Failed to count missions", zap.Error(err))
		return domain.Status{}, err
	}
	return domain.Status{
		TotalMissions:    counts.Total,
		ActiveMissions:   counts.Active,
		ConnectedClients: s.hub.CountAll(),
	}, nil
}

func (s *MissionService) ConnectedClients(missionID string) int {
	return s.hub.CountFor(missionID)
}

func (s *MissionService) TotalConnectedClients() int {
	return s.hub.CountAll()
}

// Running запущен ли таймер миссии
func (s *MissionService) Running(missionID string) bool {
	return s.scheduler.Running(missionID)
}

// Resume поднимает таймеры активных миссий после рестарта процесса. Генерация продолжается
// с последнего сохранённого сэмпла. Возвращает число перезапущенных миссий.
func (s *MissionService) Resume(ctx context.Context) (int, error) {
	active, err := s.registry.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, m := range active {
		if s.scheduler.Running(m.ID) {
			continue
		}

		seed := s.scheduler.Seed()
		latest, err := s.sink.Latest(ctx, m.ID)
		if err != nil {
			s.logger.Warn("[MissionService] No telemetry to resume from, starting fresh",
				zap.String("mission_id", m.ID),
				zap.Error(err))
		} else if latest != nil {
			seed = latest.Telemetry
		}

		// разряженная миссия уже не сгенерирует событие разряда
		if seed.Battery <= 0 && s.autoComplete {
			s.completeDepleted(ctx, m.ID)
			continue
		}

		if err := s.scheduler.Start(m.ID, seed); err != nil {
			s.logger.Warn("[MissionService] Failed to resume mission",
				zap.String("mission_id", m.ID),
				zap.Error(err))
			continue
		}
		resumed++
	}

	s.logger.Info("[MissionService] Active missions resumed",
		zap.Int("active", len(active)),
		zap.Int("resumed", resumed))
	return resumed, nil
}

func (s *MissionService) completeDepleted(ctx context.Context, missionID string) {
	unlock := s.locks.lock(missionID)
	defer unlock()

	updated, err := s.registry.Complete(ctx, missionID)
	if err != nil {
		s.logger.Warn("[MissionService] Failed to complete depleted mission",
			zap.String("mission_id", missionID),
			zap.Error(err))
		return
	}
	metrics.MissionsCompleted.WithLabelValues(reasonBatteryDepleted).Inc()
	s.logger.Info("[MissionService] Depleted mission completed on resume",
		zap.String("mission_id", updated.ID))
}

// Shutdown останавливает все таймеры и очищает реестр подписчиков. Только при завершении процесса.
func (s *MissionService) Shutdown() {
	s.scheduler.StopAll()
	s.hub.Clear()
	s.logger.Info("[MissionService] Shutdown complete")
}
