package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CoolE88/mission-telemetry-service/internal/config"
	"github.com/CoolE88/mission-telemetry-service/internal/domain"
	"github.com/CoolE88/mission-telemetry-service/internal/metrics"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

const (
	storeName = "mongo"

	missionsCollection  = "missions"
	telemetryCollection = "telemetryhistories"
)

// Repository хранилище миссий и истории телеметрии в MongoDB
type Repository struct {
	client    *mongo.Client
	missions  *mongo.Collection
	telemetry *mongo.Collection
	logger    *zap.Logger
}

func NewRepository(ctx context.Context, dbConfig config.DBConfig, logger *zap.Logger) (*Repository, error) {
	opts := options.Client().
		ApplyURI(dbConfig.MongoURI).
		SetMaxPoolSize(uint64(dbConfig.MaxDBConnections)).
		SetMinPoolSize(uint64(dbConfig.MinDBConnections)).
		SetMaxConnIdleTime(dbConfig.MaxConnIdleTime)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(dbConfig.MongoDatabase)
	r := &Repository{
		client:    client,
		missions:  db.Collection(missionsCollection),
		telemetry: db.Collection(telemetryCollection),
		logger:    logger,
	}

	if err := r.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	logger.Info("Connected to MongoDB", zap.String("database", dbConfig.MongoDatabase))
	return r, nil
}

func (r *Repository) ensureIndexes(ctx context.Context) error {
	_, err := r.missions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "missionId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create mission indexes: %w", err)
	}

	_, err = r.telemetry.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "missionId", Value: 1}, {Key: "timestamp", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create telemetry index: %w", err)
	}
	return nil
}

func observe(operation string) func() {
	start := time.Now()
	return func() {
		metrics.DBQueryDuration.WithLabelValues(storeName, operation).Observe(time.Since(start).Seconds())
	}
}

func (r *Repository) CreateMission(ctx context.Context, m *domain.Mission) error {
	defer observe("create_mission")()

	if _, err := r.missions.InsertOne(ctx, m); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicateMission
		}
		return fmt.Errorf("failed to insert mission: %w", err)
	}
	return nil
}

func (r *Repository) GetMission(ctx context.Context, missionID string) (*domain.Mission, error) {
	defer observe("get_mission")()

	var m domain.Mission
	err := r.missions.FindOne(ctx, bson.M{"missionId": missionID}).Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get mission: %w", err)
	}
	return &m, nil
}

func (r *Repository) ListMissions(ctx context.Context) ([]*domain.Mission, error) {
	defer observe("list_missions")()
	return r.findMissions(ctx, bson.M{})
}

func (r *Repository) ListActiveMissions(ctx context.Context) ([]*domain.Mission, error) {
	defer observe("list_active_missions")()
	return r.findMissions(ctx, bson.M{"status": domain.MissionStatusActive})
}

func (r *Repository) findMissions(ctx context.Context, filter bson.M) ([]*domain.Mission, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})

	cursor, err := r.missions.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query missions: %w", err)
	}
	defer cursor.Close(ctx)

	results := []*domain.Mission{}
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode missions: %w", err)
	}
	return results, nil
}

// CompleteMission условное обновление: документ меняется, только если миссия ещё ACTIVE
func (r *Repository) CompleteMission(ctx context.Context, missionID string, endTime time.Time, totalFlightTime int64) (*domain.Mission, error) {
	defer observe("complete_mission")()

	filter := bson.M{"missionId": missionID, "status": domain.MissionStatusActive}
	update := bson.M{"$set": bson.M{
		"status":          domain.MissionStatusCompleted,
		"endTime":         endTime,
		"totalFlightTime": totalFlightTime,
		"updatedAt":       endTime,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var m domain.Mission
	err := r.missions.FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
	if err == nil {
		return &m, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to complete mission: %w", err)
	}

	existing, err := r.GetMission(ctx, missionID)
	if err != nil || existing == nil {
		return nil, err
	}
	return nil, domain.ErrMissionAlreadyCompleted
}

func (r *Repository) CountMissions(ctx context.Context) (domain.MissionCounts, error) {
	defer observe("count_missions")()

	total, err := r.missions.CountDocuments(ctx, bson.M{})
	if err != nil {
		return domain.MissionCounts{}, fmt.Errorf("failed to count missions: %w", err)
	}
	active, err := r.missions.CountDocuments(ctx, bson.M{"status": domain.MissionStatusActive})
	if err != nil {
		return domain.MissionCounts{}, fmt.Errorf("failed to count active missions: %w", err)
	}
	return domain.MissionCounts{Total: total, Active: active}, nil
}

func (r *Repository) SaveTelemetry(ctx context.Context, sample *domain.TelemetrySample) error {
	defer observe("save_telemetry")()

	if _, err := r.telemetry.InsertOne(ctx, sample); err != nil {
		return fmt.Errorf("failed to save telemetry: %w", err)
	}
	return nil
}

func (r *Repository) GetTelemetryHistory(ctx context.Context, missionID string, limit int) ([]*domain.TelemetrySample, error) {
	defer observe("get_telemetry_history")()

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.telemetry.Find(ctx, bson.M{"missionId": missionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry: %w", err)
	}
	defer cursor.Close(ctx)

	results := []*domain.TelemetrySample{}
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode telemetry: %w", err)
	}
	return results, nil
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	defer observe("health_check")()
	return r.client.Ping(ctx, readpref.Primary())
}

func (r *Repository) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.client.Disconnect(ctx); err != nil {
		r.logger.Warn("Failed to disconnect from MongoDB", zap.Error(err))
	}
}
