package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/CoolE88/mission-telemetry-service/internal/domain"
	"github.com/CoolE88/mission-telemetry-service/internal/metrics"
	"github.com/CoolE88/mission-telemetry-service/internal/repository/migrations"

	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const storeName = "sqlite"

const defaultPragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

// Repository локальное хранилище в одном файле SQLite
type Repository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewRepository(ctx context.Context, path string, logger *zap.Logger) (*Repository, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sqlite migrate driver: %w", err)
	}
	if err := migrations.Up(migrations.SQLite, driver, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &Repository{db: db, logger: logger}, nil
}

func dsn(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?" + defaultPragmas
}

func observe(operation string) func() {
	start := time.Now()
	return func() {
		metrics.DBQueryDuration.WithLabelValues(storeName, operation).Observe(time.Since(start).Seconds())
	}
}

func (r *Repository) CreateMission(ctx context.Context, m *domain.Mission) error {
	defer observe("create_mission")()

	query := `INSERT INTO missions (mission_id, status, start_time, end_time, total_flight_time, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		m.ID,
		string(m.Status),
		m.StartTime.UnixNano(),
		nullableNanos(m.EndTime),
		m.TotalFlightTime,
		m.CreatedAt.UnixNano(),
		m.UpdatedAt.UnixNano(),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return domain.ErrDuplicateMission
		}
		return fmt.Errorf("failed to insert mission: %w", err)
	}
	return nil
}

const missionColumns = "mission_id, status, start_time, end_time, total_flight_time, created_at, updated_at"

func (r *Repository) GetMission(ctx context.Context, missionID string) (*domain.Mission, error) {
	defer observe("get_mission")()

	row := r.db.QueryRowContext(ctx, "SELECT "+missionColumns+" FROM missions WHERE mission_id = ?", missionID)
	m, err := scanMission(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get mission: %w", err)
	}
	return m, nil
}

func (r *Repository) ListMissions(ctx context.Context) ([]*domain.Mission, error) {
	defer observe("list_missions")()
	return r.queryMissions(ctx, "SELECT "+missionColumns+" FROM missions ORDER BY created_at DESC, rowid DESC")
}

func (r *Repository) ListActiveMissions(ctx context.Context) ([]*domain.Mission, error) {
	defer observe("list_active_missions")()
	return r.queryMissions(ctx, "SELECT "+missionColumns+" FROM missions WHERE status = ? ORDER BY created_at DESC, rowid DESC",
		string(domain.MissionStatusActive))
}

func (r *Repository) queryMissions(ctx context.Context, query string, args ...any) ([]*domain.Mission, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
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

func (r *Repository) CompleteMission(ctx context.Context, missionID string, endTime time.Time, totalFlightTime int64) (*domain.Mission, error) {
	defer observe("complete_mission")()

	query := `UPDATE missions SET status = ?, end_time = ?, total_flight_time = ?, updated_at = ?
		WHERE mission_id = ? AND status = ?`

	res, err := r.db.ExecContext(ctx, query,
		string(domain.MissionStatusCompleted),
		endTime.UnixNano(),
		totalFlightTime,
		endTime.UnixNano(),
		missionID,
		string(domain.MissionStatusActive),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to complete mission: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}

	m, err := r.GetMission(ctx, missionID)
	if err != nil || m == nil {
		return nil, err
	}
	if affected == 0 {
		return nil, domain.ErrMissionAlreadyCompleted
	}
	return m, nil
}

func (r *Repository) CountMissions(ctx context.Context) (domain.MissionCounts, error) {
	defer observe("count_missions")()

	query := `SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) FROM missions`

	var counts domain.MissionCounts
	if err := r.db.QueryRowContext(ctx, query, string(domain.MissionStatusActive)).Scan(&counts.Total, &counts.Active); err != nil {
		return domain.MissionCounts{}, fmt.Errorf("failed to count missions: %w", err)
	}
	return counts, nil
}

func (r *Repository) SaveTelemetry(ctx context.Context, sample *domain.TelemetrySample) error {
	defer observe("save_telemetry")()

	query := `INSERT INTO telemetry_history (mission_id, recorded_at, battery, latitude, longitude, altitude)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		sample.MissionID,
		sample.Timestamp.UnixNano(),
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

func (r *Repository) GetTelemetryHistory(ctx context.Context, missionID string, limit int) ([]*domain.TelemetrySample, error) {
	defer observe("get_telemetry_history")()

	query := `SELECT mission_id, recorded_at, battery, latitude, longitude, altitude
		FROM telemetry_history WHERE mission_id = ? ORDER BY recorded_at DESC, id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, missionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry: %w", err)
	}
	defer rows.Close()

	results := []*domain.TelemetrySample{}
	for rows.Next() {
		var (
			s     domain.TelemetrySample
			nanos int64
		)
		if err := rows.Scan(&s.MissionID, &nanos, &s.Battery, &s.Latitude, &s.Longitude, &s.Altitude); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		s.Timestamp = time.Unix(0, nanos).UTC()
		results = append(results, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return results, nil
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	defer observe("health_check")()
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() {
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			r.logger.Warn("Failed to close sqlite database", zap.Error(err))
		}
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMission(row rowScanner) (*domain.Mission, error) {
	var (
		m                       domain.Mission
		status                  string
		start, created, updated int64
		end                     sql.NullInt64
	)
	if err := row.Scan(&m.ID, &status, &start, &end, &m.TotalFlightTime, &created, &updated); err != nil {
		return nil, err
	}

	m.Status = domain.MissionStatus(status)
	m.StartTime = time.Unix(0, start).UTC()
	m.CreatedAt = time.Unix(0, created).UTC()
	m.UpdatedAt = time.Unix(0, updated).UTC()
	if end.Valid {
		t := time.Unix(0, end.Int64).UTC()
		m.EndTime = &t
	}
	return &m, nil
}

func nullableNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func isConstraintViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}
