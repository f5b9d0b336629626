package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CoolE88/mission-telemetry-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) SaveTelemetry(ctx context.Context, sample *domain.TelemetrySample) error {
	args := m.Called(ctx, sample)
	return args.Error(0)
}

func (m *MockRepository) GetTelemetryHistory(ctx context.Context, missionID string, limit int) ([]*domain.TelemetrySample, error) {
	args := m.Called(ctx, missionID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.TelemetrySample), args.Error(1)
}

func newTestSink(repo Repository) *Sink {
	logger, _ := zap.NewDevelopment()
	return NewSink(repo, time.Second, 100, 1000, logger)
}

func TestSink_Append_Success(t *testing.T) {
	mockRepo := new(MockRepository)
	sink := newTestSink(mockRepo)

	sample := domain.TelemetrySample{
		MissionID: "MISSION_1_abcdefghi",
		Timestamp: time.Now(),
		Telemetry: domain.Telemetry{Battery: 99.9, Latitude: 18.59, Longitude: 73.73, Altitude: 80},
	}

	mockRepo.On("SaveTelemetry", mock.Anything, mock.AnythingOfType("*domain.TelemetrySample")).
		Return(nil).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)

			saved := args.Get(1).(*domain.TelemetrySample)
			assert.Equal(t, sample, *saved)
		})

	err := sink.Append(context.Background(), sample)
	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
}

func TestSink_Append_FailureIsReported(t *testing.T) {
	mockRepo := new(MockRepository)
	sink := newTestSink(mockRepo)

	mockRepo.On("SaveTelemetry", mock.Anything, mock.Anything).Return(errors.New("connection reset"))

	err := sink.Append(context.Background(), domain.TelemetrySample{MissionID: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestSink_History_Limits(t *testing.T) {
	tests := []struct {
		name     string
		limit    int
		expected int
	}{
		{"default when zero", 0, 100},
		{"default when negative", -5, 100},
		{"as requested", 10, 10},
		{"capped", 5000, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := new(MockRepository)
			sink := newTestSink(mockRepo)

			mockRepo.On("GetTelemetryHistory", mock.Anything, "m", tt.expected).
				Return([]*domain.TelemetrySample{}, nil)

			_, err := sink.History(context.Background(), "m", tt.limit)
			assert.NoError(t, err)
			mockRepo.AssertExpectations(t)
		})
	}
}

func TestSink_History_EmptyNotNil(t *testing.T) {
	mockRepo := new(MockRepository)
	sink := newTestSink(mockRepo)

	mockRepo.On("GetTelemetryHistory", mock.Anything, "unknown", 100).
		Return(nil, nil)

	samples, err := sink.History(context.Background(), "unknown", 0)
	assert.NoError(t, err)
	assert.NotNil(t, samples)
	assert.Empty(t, samples)
}

func TestSink_Latest(t *testing.T) {
	mockRepo := new(MockRepository)
	sink := newTestSink(mockRepo)

	newest := &domain.TelemetrySample{MissionID: "m", Timestamp: time.Now(), Telemetry: domain.Telemetry{Battery: 42}}
	mockRepo.On("GetTelemetryHistory", mock.Anything, "m", 1).
		Return([]*domain.TelemetrySample{newest}, nil)

	got, err := sink.Latest(context.Background(), "m")
	assert.NoError(t, err)
	assert.Equal(t, newest, got)
}
