package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/CoolE88/mission-telemetry-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var base = time.Date(2025, 8, 27, 14, 0, 0, 0, time.UTC)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	path := filepath.Join(t.TempDir(), "missions.db")
	repo, err := NewRepository(context.Background(), path, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(repo.Close)
	return repo
}

func newMission(id string, created time.Time) *domain.Mission {
	return &domain.Mission{
		ID:        id,
		Status:    domain.MissionStatusActive,
		StartTime: created,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestRepository_MissionLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	require.NoError(t, repo.CreateMission(ctx, newMission("a", base)))
	require.NoError(t, repo.CreateMission(ctx, newMission("b", base.Add(time.Second))))
	assert.ErrorIs(t, repo.CreateMission(ctx, newMission("a", base)), domain.ErrDuplicateMission)

	missing, err := repo.GetMission(ctx, "zzz")
	assert.NoError(t, err)
	assert.Nil(t, missing)

	got, err := repo.GetMission(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, base, got.StartTime)
	assert.Nil(t, got.EndTime)
	assert.True(t, got.IsActive())

	list, err := repo.ListMissions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID)
	assert.Equal(t, "a", list[1].ID)

	end := base.Add(90 * time.Second)
	done, err := repo.CompleteMission(ctx, "a", end, 90)
	require.NoError(t, err)
	assert.Equal(t, domain.MissionStatusCompleted, done.Status)
	require.NotNil(t, done.EndTime)
	assert.Equal(t, end, *done.EndTime)
	assert.Equal(t, int64(90), done.TotalFlightTime)

	_, err = repo.CompleteMission(ctx, "a", end.Add(time.Hour), 3690)
	assert.ErrorIs(t, err, domain.ErrMissionAlreadyCompleted)

	stored, err := repo.GetMission(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, end, *stored.EndTime)
	assert.Equal(t, int64(90), stored.TotalFlightTime)

	gone, err := repo.CompleteMission(ctx, "zzz", end, 1)
	assert.NoError(t, err)
	assert.Nil(t, gone)

	active, err := repo.ListActiveMissions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "b", active[0].ID)

	counts, err := repo.CountMissions(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.MissionCounts{Total: 2, Active: 1}, counts)
}

func TestRepository_EmptyStore(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	list, err := repo.ListMissions(ctx)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)

	counts, err := repo.CountMissions(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.MissionCounts{}, counts)

	history, err := repo.GetTelemetryHistory(ctx, "nope", 10)
	require.NoError(t, err)
	assert.Empty(t, history)

	assert.NoError(t, repo.HealthCheck(ctx))
}

func TestRepository_TelemetryHistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.SaveTelemetry(ctx, &domain.TelemetrySample{
			MissionID: "a",
			Timestamp: base.Add(time.Duration(i) * 2 * time.Second),
			Telemetry: domain.Telemetry{Battery: 100 - float64(i), Latitude: 18.59, Longitude: 73.73, Altitude: 100},
		}))
	}
	require.NoError(t, repo.SaveTelemetry(ctx, &domain.TelemetrySample{
		MissionID: "b",
		Timestamp: base,
		Telemetry: domain.Telemetry{Battery: 50},
	}))

	history, err := repo.GetTelemetryHistory(ctx, "a", 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 96.0, history[0].Battery)
	assert.Equal(t, 97.0, history[1].Battery)
	assert.Equal(t, 98.0, history[2].Battery)
	assert.Equal(t, base.Add(8*time.Second), history[0].Timestamp)
	assert.Equal(t, "a", history[0].MissionID)

	other, err := repo.GetTelemetryHistory(ctx, "b", 10)
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, 50.0, other[0].Battery)
}

func TestRepository_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "missions.db")

	repo, err := NewRepository(ctx, path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, repo.CreateMission(ctx, newMission("a", base)))
	repo.Close()

	// повторные миграции на той же базе не должны падать
	reopened, err := NewRepository(ctx, path, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	m, err := reopened.GetMission(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "a", m.ID)
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "x.db?"+defaultPragmas, dsn("x.db"))
	assert.Equal(t, "file:x.db?mode=ro", dsn("file:x.db?mode=ro"))
}
