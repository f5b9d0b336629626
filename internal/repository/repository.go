package repository

import (
	"context"
	"fmt"

	"github.com/CoolE88/mission-telemetry-service/internal/config"
	"github.com/CoolE88/mission-telemetry-service/internal/mission"
	"github.com/CoolE88/mission-telemetry-service/internal/repository/memory"
	"github.com/CoolE88/mission-telemetry-service/internal/repository/mongo"
	"github.com/CoolE88/mission-telemetry-service/internal/repository/postgres"
	"github.com/CoolE88/mission-telemetry-service/internal/repository/sqlite"
	"github.com/CoolE88/mission-telemetry-service/internal/telemetry"

	"go.uber.org/zap"
)

const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Store одно хранилище для миссий и истории телеметрии
type Store interface {
	mission.Repository
	telemetry.Repository
	HealthCheck(ctx context.Context) error
	Close()
}

var (
	_ Store = (*memory.Repository)(nil)
	_ Store = (*mongo.Repository)(nil)
	_ Store = (*postgres.PostgresRepository)(nil)
	_ Store = (*sqlite.Repository)(nil)
)

// Open подключает хранилище, выбранное в dbConfig.DBDriver
func Open(ctx context.Context, dbConfig config.DBConfig, logger *zap.Logger) (Store, error) {
	logger.Info("Opening store", zap.String("driver", dbConfig.DBDriver))

	var (
		store Store
		err   error
	)
	switch dbConfig.DBDriver {
	case DriverMongo:
		store, err = mongo.NewRepository(ctx, dbConfig, logger)
	case DriverPostgres:
		store, err = postgres.NewPostgresRepository(ctx, dbConfig, logger)
	case DriverSQLite:
		store, err = sqlite.NewRepository(ctx, dbConfig.SQLitePath, logger)
	case DriverMemory:
		store = memory.NewRepository()
	default:
		return nil, fmt.Errorf("unsupported store driver %q", dbConfig.DBDriver)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}
