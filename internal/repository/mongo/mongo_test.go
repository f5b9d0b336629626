package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/CoolE88/mission-telemetry-service/internal/config"
	"github.com/CoolE88/mission-telemetry-service/internal/domain"
	"github.com/CoolE88/mission-telemetry-service/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Интеграционный тест, нужен живой MongoDB в TEST_MONGODB_URI
func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	uri := os.Getenv("TEST_MONGODB_URI")
	if uri == "" {
		t.Skip("TEST_MONGODB_URI is not set")
	}

	cfg := config.Default().DBConfig
	cfg.MongoURI = uri
	cfg.MongoDatabase = "live-telemetry-test"

	repo, err := NewRepository(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(repo.Close)
	return repo
}

func TestRepository_MissionLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	// mongo хранит время с точностью до миллисекунд
	now := time.Now().UTC().Truncate(time.Millisecond)
	id := utils.NewMissionID(now)
	m := &domain.Mission{ID: id, Status: domain.MissionStatusActive, StartTime: now, CreatedAt: now, UpdatedAt: now}

	require.NoError(t, repo.CreateMission(ctx, m))
	assert.ErrorIs(t, repo.CreateMission(ctx, m), domain.ErrDuplicateMission)

	got, err := repo.GetMission(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, now, got.StartTime)
	assert.True(t, got.IsActive())

	end := now.Add(10 * time.Second)
	done, err := repo.CompleteMission(ctx, id, end, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.MissionStatusCompleted, done.Status)
	require.NotNil(t, done.EndTime)
	assert.Equal(t, end, *done.EndTime)

	_, err = repo.CompleteMission(ctx, id, end, 10)
	assert.ErrorIs(t, err, domain.ErrMissionAlreadyCompleted)

	missing, err := repo.GetMission(ctx, "MISSION_0_missing00")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepository_TelemetryHistory(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	id := utils.NewMissionID(now)
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.SaveTelemetry(ctx, &domain.TelemetrySample{
			MissionID: id,
			Timestamp: now.Add(time.Duration(i) * time.Second),
			Telemetry: domain.Telemetry{Battery: 100 - float64(i), Altitude: 100},
		}))
	}

	history, err := repo.GetTelemetryHistory(ctx, id, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 98.0, history[0].Battery)
	assert.Equal(t, id, history[0].MissionID)
	assert.Equal(t, 99.0, history[1].Battery)
}
