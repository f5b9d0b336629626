package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/CoolE88/mission-telemetry-service/internal/domain"
)

// Repository хранилище в памяти процесса, для локального запуска и тестов
type Repository struct {
	mu        sync.RWMutex
	missions  map[string]*domain.Mission
	order     []string // в порядке создания
	telemetry map[string][]domain.TelemetrySample
}

func NewRepository() *Repository {
	return &Repository{
		missions:  make(map[string]*domain.Mission),
		telemetry: make(map[string][]domain.TelemetrySample),
	}
}

func (r *Repository) CreateMission(ctx context.Context, m *domain.Mission) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.missions[m.ID]; ok {
		return domain.ErrDuplicateMission
	}
	stored := *m
	r.missions[m.ID] = &stored
	r.order = append(r.order, m.ID)
	return nil
}

func (r *Repository) GetMission(ctx context.Context, missionID string) (*domain.Mission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.missions[missionID]
	if !ok {
		return nil, nil
	}
	out := *m
	return &out, nil
}

func (r *Repository) ListMissions(ctx context.Context) ([]*domain.Mission, error) {
	return r.list(ctx, func(*domain.Mission) bool { return true })
}

func (r *Repository) ListActiveMissions(ctx context.Context) ([]*domain.Mission, error) {
	return r.list(ctx, (*domain.Mission).IsActive)
}

func (r *Repository) list(ctx context.Context, keep func(*domain.Mission) bool) ([]*domain.Mission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Mission, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		m := r.missions[r.order[i]]
		if keep(m) {
			out := *m
			result = append(result, &out)
		}
	}
	return result, nil
}

func (r *Repository) CompleteMission(ctx context.Context, missionID string, endTime time.Time, totalFlightTime int64) (*domain.Mission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.missions[missionID]
	if !ok {
		return nil, nil
	}
	if !m.IsActive() {
		return nil, domain.ErrMissionAlreadyCompleted
	}

	end := endTime
	m.Status = domain.MissionStatusCompleted
	m.EndTime = &end
	m.TotalFlightTime = totalFlightTime
	m.UpdatedAt = endTime

	out := *m
	return &out, nil
}

func (r *Repository) CountMissions(ctx context.Context) (domain.MissionCounts, error) {
	if err := ctx.Err(); err != nil {
		return domain.MissionCounts{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := domain.MissionCounts{Total: int64(len(r.missions))}
	for _, m := range r.missions {
		if m.IsActive() {
			counts.Active++
		}
	}
	return counts, nil
}

func (r *Repository) SaveTelemetry(ctx context.Context, sample *domain.TelemetrySample) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.telemetry[sample.MissionID] = append(r.telemetry[sample.MissionID], *sample)
	return nil
}

func (r *Repository) GetTelemetryHistory(ctx context.Context, missionID string, limit int) ([]*domain.TelemetrySample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	samples := make([]domain.TelemetrySample, len(r.telemetry[missionID]))
	copy(samples, r.telemetry[missionID])
	r.mu.RUnlock()

	// стабильная сортировка: при равных timestamp более поздняя запись идёт первой
	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.After(samples[j].Timestamp)
	})

	if limit > 0 && len(samples) > limit {
		samples = samples[:limit]
	}

	result := make([]*domain.TelemetrySample, len(samples))
	for i := range samples {
		result[i] = &samples[i]
	}
	return result, nil
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

func (r *Repository) Close() {}
