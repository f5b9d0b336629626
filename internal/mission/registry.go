package mission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CoolE88/mission-telemetry-service/internal/domain"
	"github.com/CoolE88/mission-telemetry-service/pkg/utils"

	"go.uber.org/zap"
)

// Repository хранилище миссий. GetMission и CompleteMission возвращают (nil, nil),
// если миссии нет. CompleteMission обновляет только миссию в статусе ACTIVE, иначе
// domain.ErrMissionAlreadyCompleted.
type Repository interface {
	CreateMission(ctx context.Context, m *domain.Mission) error
	GetMission(ctx context.Context, missionID string) (*domain.Mission, error)
	ListMissions(ctx context.Context) ([]*domain.Mission, error)
	ListActiveMissions(ctx context.Context) ([]*domain.Mission, error)
	CompleteMission(ctx context.Context, missionID string, endTime time.Time, totalFlightTime int64) (*domain.Mission, error)
	CountMissions(ctx context.Context) (domain.MissionCounts, error)
}

type Option func(*Registry)

// WithClock подменяет источник времени
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithIDGenerator подменяет генератор идентификаторов
func WithIDGenerator(gen func(time.Time) string) Option {
	return func(r *Registry) { r.newID = gen }
}

// Registry источник истины о статусе миссий
type Registry struct {
	repo   Repository
	now    func() time.Time
	newID  func(time.Time) string
	logger *zap.Logger
}

func NewRegistry(repo Repository, logger *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		repo:   repo,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  utils.NewMissionID,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create заводит новую активную миссию
func (r *Registry) Create(ctx context.Context) (*domain.Mission, error) {
	now := r.now()
	m := &domain.Mission{
		ID:        r.newID(now),
		Status:    domain.MissionStatusActive,
		StartTime: now,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := r.repo.CreateMission(ctx, m); err != nil {
		if errors.Is(err, domain.ErrDuplicateMission) {
			r.logger.Error("[Registry] Mission id collision", zap.String("mission_id", m.ID))
			return nil, err
		}
		return nil, fmt.Errorf("create mission: %w", err)
	}

	r.logger.Info("[Registry] Mission created", zap.String("mission_id", m.ID))
	return m, nil
}

func (r *Registry) Get(ctx context.Context, missionID string) (*domain.Mission, error) {
	// без префикса MISSION_ такой миссии в хранилище быть не может
	if !utils.IsMissionID(missionID) {
		return nil, domain.ErrMissionNotFound
	}

	m, err := r.repo.GetMission(ctx, missionID)
	if err != nil {
		return nil, fmt.Errorf("get mission: %w", err)
	}
	if m == nil {
		return nil, domain.ErrMissionNotFound
	}
	return m, nil
}

// List все миссии, новые первыми
func (r *Registry) List(ctx context.Context) ([]*domain.Mission, error) {
	missions, err := r.repo.ListMissions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list missions: %w", err)
	}
	if missions == nil {
		missions = []*domain.Mission{}
	}
	return missions, nil
}

func (r *Registry) ListActive(ctx context.Context) ([]*domain.Mission, error) {
	missions, err := r.repo.ListActiveMissions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active missions: %w", err)
	}
	return missions, nil
}

func (r *Registry) Counts(ctx context.Context) (domain.MissionCounts, error) {
	counts, err := r.repo.CountMissions(ctx)
	if err != nil {
		return domain.MissionCounts{}, fmt.Errorf("count missions: %w", err)
	}
	return counts, nil
}

// Complete переводит миссию в COMPLETED. Повторное завершение отклоняется здесь же,
// endTime и totalFlightTime выставляются ровно один раз.
func (r *Registry) Complete(ctx context.Context, missionID string) (*domain.Mission, error) {
	m, err := r.Get(ctx, missionID)
	if err != nil {
		return nil, err
	}
	if !m.IsActive() {
		return nil, domain.ErrMissionAlreadyCompleted
	}

	end := r.now()
	flightTime := FlightTime(m.StartTime, end)

	updated, err := r.repo.CompleteMission(ctx, missionID, end, flightTime)
	if err != nil {
		if errors.Is(err, domain.ErrMissionAlreadyCompleted) {
			return nil, err
		}
		return nil, fmt.Errorf("complete mission: %w", err)
	}
	if updated == nil {
		return nil, domain.ErrMissionNotFound
	}

	r.logger.Info("[Registry] Mission completed",
		zap.String("mission_id", missionID),
		zap.Int64("total_flight_time", updated.TotalFlightTime))
	return updated, nil
}

// FlightTime длительность полёта в целых секундах, округление вниз
func FlightTime(start, end time.Time) int64 {
	d := end.Sub(start)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}
