package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/CoolE88/mission-telemetry-service/internal/domain"
	"github.com/CoolE88/mission-telemetry-service/internal/metrics"

	"go.uber.org/zap"
)

type Repository interface {
	SaveTelemetry(ctx context.Context, sample *domain.TelemetrySample) error
	GetTelemetryHistory(ctx context.Context, missionID string, limit int) ([]*domain.TelemetrySample, error)
}

// Sink журнал телеметрии по миссиям: запись best-effort, чтение от новых к старым
type Sink struct {
	repo         Repository
	timeout      time.Duration
	defaultLimit int
	maxLimit     int
	logger       *zap.Logger
}

func NewSink(repo Repository, timeout time.Duration, defaultLimit, maxLimit int, logger *zap.Logger) *Sink {
	return &Sink{
		repo:         repo,
		timeout:      timeout,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		logger:       logger,
	}
}

// Append сохраняет один сэмпл. Ошибка логируется и возвращается, но вызывающий не должен
// из-за неё останавливать генерацию.
func (s *Sink) Append(ctx context.Context, sample domain.TelemetrySample) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if err := s.repo.SaveTelemetry(ctx, &sample); err != nil {
		metrics.TelemetryPersistFailures.Inc()
		s.logger.Error("[Sink] Failed to store telemetry sample",
			zap.String("mission_id", sample.MissionID),
			zap.Time("timestamp", sample.Timestamp),
			zap.Error(err))
		return fmt.Errorf("store telemetry: %w", err)
	}

	metrics.TelemetryPersisted.Inc()
	return nil
}

// History возвращает не больше limit сэмплов, новые первыми. Для неизвестной миссии пустой срез.
func (s *Sink) History(ctx context.Context, missionID string, limit int) ([]*domain.TelemetrySample, error) {
	limit = s.normalizeLimit(limit)

	samples, err := s.repo.GetTelemetryHistory(ctx, missionID, limit)
	if err != nil {
		s.logger.Error("[Sink] Failed to get telemetry history",
			zap.String("mission_id", missionID),
			zap.Int("limit", limit),
			zap.Error(err))
		return nil, err
	}
	if samples == nil {
		samples = []*domain.TelemetrySample{}
	}
	return samples, nil
}

// Latest последний сохранённый сэмпл или nil
func (s *Sink) Latest(ctx context.Context, missionID string) (*domain.TelemetrySample, error) {
	samples, err := s.History(ctx, missionID, 1)
	if err != nil || len(samples) == 0 {
		return nil, err
	}
	return samples[0], nil
}

func (s *Sink) normalizeLimit(limit int) int {
	if limit <= 0 {
		return s.defaultLimit
	}
	if s.maxLimit > 0 && limit > s.maxLimit {
		return s.maxLimit
	}
	return limit
}
