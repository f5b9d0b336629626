package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CoolE88/mission-telemetry-service/internal/config"
	"github.com/CoolE88/mission-telemetry-service/internal/domain"
	"github.com/CoolE88/mission-telemetry-service/internal/metrics"
	"github.com/CoolE88/mission-telemetry-service/internal/repository/migrations"

	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const (
	storeName = "postgres"

	uniqueViolation = "23505"
)

type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	cancel context.CancelFunc
}

func NewPostgresRepository(ctx context.Context, dbConfig config.DBConfig, logger *zap.Logger) (*PostgresRepository, error) {
	// Конфигурация пула
	poolConfig, err := pgxpool.ParseConfig(dbConfig.DBSource)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Настройка пула
	poolConfig.MaxConns = int32(dbConfig.MaxDBConnections)
	poolConfig.MinConns = int32(dbConfig.MinDBConnections)
	poolConfig.MaxConnLifetime = dbConfig.MaxConnLifetime
	poolConfig.MaxConnIdleTime = dbConfig.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrate(pool, logger); err != nil {
		pool.Close()
		return nil, err
	}

	// мониторинг живёт столько же, сколько репозиторий
	monitorCtx, cancel := context.WithCancel(context.Background())
	go monitorConnections(monitorCtx, pool, logger)

	return &PostgresRepository{
		pool:   pool,
		logger: logger,
		cancel: cancel,
	}, nil
}

func migrate(pool *pgxpool.Pool, logger *zap.Logger) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres migrate driver: %w", err)
	}
	return migrations.Up(migrations.Postgres, driver, logger)
}

// monitorConnections периодически обновляет метрики соединений и завершается при отмене ctx
func monitorConnections(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping monitorConnections goroutine due to context cancellation")
			return
		case <-ticker.C:
			stats := pool.Stat()
			metrics.DBActiveConnections.Set(float64(stats.AcquiredConns()))
			metrics.DBIdleConnections.Set(float64(stats.IdleConns()))

			logger.Debug("Database connection stats",
				zap.Int("acquired", int(stats.AcquiredConns())),
				zap.Int("idle", int(stats.IdleConns())),
				zap.Int("max", int(stats.MaxConns())),
			)
		}
	}
}

func observe(operation string) func() {
	start := time.Now()
	return func() {
		metrics.DBQueryDuration.WithLabelValues(storeName, operation).Observe(time.Since(start).Seconds())
	}
}

const missionColumns = "mission_id, status, start_time, end_time, total_flight_time, created_at, updated_at"

func (r *PostgresRepository) CreateMission(ctx context.Context, m *domain.Mission) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	defer observe("create_mission")()

	query := "INSERT INTO missions (" + missionColumns + ") VALUES ($1, $2, $3, $4, $5, $6, $7)"

	_, err := r.pool.Exec(ctx, query,
		m.ID,
		string(m.Status),
		m.StartTime,
		m.EndTime,
		m.TotalFlightTime,
		m.CreatedAt,
		m.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrDuplicateMission
		}
		return fmt.Errorf("failed to insert mission: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetMission(ctx context.Context, missionID string) (*domain.Mission, error) {
	defer observe("get_mission")()

	query := "SELECT " + missionColumns + " FROM missions WHERE mission_id = $1"

	m, err := scanMission(r.pool.QueryRow(ctx, query, missionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get mission: %w", err)
	}
	return m, nil
}

func (r *PostgresRepository) ListMissions(ctx context.Context) ([]*domain.Mission, error) {
	defer observe("list_missions")()
	return r.queryMissions(ctx, "SELECT "+missionColumns+" FROM missions ORDER BY created_at DESC")
}

func (r *PostgresRepository) ListActiveMissions(ctx context.Context) ([]*domain.Mission, error) {
	defer observe("list_active_missions")()
	return r.queryMissions(ctx, "SELECT "+missionColumns+" FROM missions WHERE status = $1 ORDER BY created_at DESC",
		string(domain.MissionStatusActive))
}

func (r *PostgresRepository) queryMissions(ctx context.Context, query string, args ...any) ([]*domain.Mission, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query missions: %w", err)
	}
	defer rows.Close()

	results := []*domain.Mission{}
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		results = append(results, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return results, nil
}

// CompleteMission обновляет только активную миссию, поэтому из двух конкурентных завершений
// выигрывает первое
func (r *PostgresRepository) CompleteMission(ctx context.Context, missionID string, endTime time.Time, totalFlightTime int64) (*domain.Mission, error) {
	defer observe("complete_mission")()

	query := `UPDATE missions SET status = $1, end_time = $2, total_flight_time = $3, updated_at = $2
		WHERE mission_id = $4 AND status = $5
		RETURNING ` + missionColumns

	m, err := scanMission(r.pool.QueryRow(ctx, query,
		string(domain.MissionStatusCompleted),
		endTime,
		totalFlightTime,
		missionID,
		string(domain.MissionStatusActive),
	))
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to complete mission: %w", err)
	}

	existing, err := r.GetMission(ctx, missionID)
	if err != nil || existing == nil {
		return nil, err
	}
	return nil, domain.ErrMissionAlreadyCompleted
}

func (r *PostgresRepository) CountMissions(ctx context.Context) (domain.MissionCounts, error) {
	defer observe("count_missions")()

	query := "SELECT COUNT(*), COUNT(*) FILTER (WHERE status = $1) FROM missions"

	var counts domain.MissionCounts
	if err := r.pool.QueryRow(ctx, query, string(domain.MissionStatusActive)).Scan(&counts.Total, &counts.Active); err != nil {
		return domain.MissionCounts{}, fmt.Errorf("failed to count missions: %w", err)
	}
	return counts, nil
}

func (r *PostgresRepository) SaveTelemetry(ctx context.Context, sample *domain.TelemetrySample) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	defer observe("save_telemetry")()

	query := `INSERT INTO telemetry_history (mission_id, recorded_at, battery, latitude, longitude, altitude)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.pool.Exec(ctx, query,
		sample.MissionID,
		sample.Timestamp,
		sample.Battery,
		sample.Latitude,
		sample.Longitude,
		sample.Altitude,
	)
	if err != nil {
		return fmt.Errorf("failed to save telemetry: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetTelemetryHistory(ctx context.Context, missionID string, limit int) ([]*domain.TelemetrySample, error) {
	defer observe("get_telemetry_history")()

	query := `SELECT mission_id, recorded_at, battery, latitude, longitude, altitude
		FROM telemetry_history WHERE mission_id = $1 ORDER BY recorded_at DESC, id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, missionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry: %w", err)
	}
	defer rows.Close()

	results := []*domain.TelemetrySample{}
	for rows.Next() {
		var s domain.TelemetrySample
		err := rows.Scan(
			&s.MissionID,
			&s.Timestamp,
			&s.Battery,
			&s.Latitude,
			&s.Longitude,
			&s.Altitude,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		s.Timestamp = s.Timestamp.UTC()
		results = append(results, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return results, nil
}

func (r *PostgresRepository) HealthCheck(ctx context.Context) error {
	defer observe("health_check")()
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.pool != nil {
		r.pool.Close()
	}
}

func scanMission(row pgx.Row) (*domain.Mission, error) {
	var (
		m      domain.Mission
		status string
	)
	err := row.Scan(
		&m.ID,
		&status,
		&m.StartTime,
		&m.EndTime,
		&m.TotalFlightTime,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.Status = domain.MissionStatus(status)
	m.StartTime = m.StartTime.UTC()
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	if m.EndTime != nil {
		end := m.EndTime.UTC()
		m.EndTime = &end
	}
	return &m, nil
}
