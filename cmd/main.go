package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CoolE88/mission-telemetry-service/internal/config"
	appgrpc "github.com/CoolE88/mission-telemetry-service/internal/grpc"
	apphttp "github.com/CoolE88/mission-telemetry-service/internal/http"
	applogger "github.com/CoolE88/mission-telemetry-service/internal/logger"
	"github.com/CoolE88/mission-telemetry-service/internal/repository"
	"github.com/CoolE88/mission-telemetry-service/internal/service"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to YAML config file")
	pflag.Parse()

	// Создаём отменяемый контекст для всего приложения
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := applogger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			log.Printf("Error during logger sync: %v", err)
		}
	}()

	logger.Info("Starting Mission Telemetry Service",
		zap.String("version", "1.0.0"),
		zap.String("db_driver", cfg.DBConfig.DBDriver))

	// Инициализация хранилища
	store, err := repository.Open(ctx, cfg.DBConfig, logger)
	if err != nil {
		logger.Error("Failed to connect to database", zap.Error(err))
		return
	}
	defer func() {
		store.Close()
		logger.Info("Database connection closed")
	}()

	logger.Info("Database connection established")

	missionService := service.NewMissionService(store, cfg, logger)

	// Активные миссии из прошлого запуска снова получают таймеры
	if cfg.Lifecycle.ResumeActiveMissions {
		resumed, err := missionService.Resume(ctx)
		if err != nil {
			logger.Error("Failed to resume active missions", zap.Error(err))
		} else {
			logger.Info("Active missions resumed", zap.Int("count", resumed))
		}
	}

	// Запуск HTTP сервера
	httpServer := apphttp.NewHTTPServer(cfg, missionService, logger)
	go func() {
		if err := httpServer.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", zap.Error(err))
			return
		}
	}()

	// Запуск GRPC сервера
	grpcServer := appgrpc.NewGRPCServer(missionService, cfg.Subscribers.Buffer, logger)
	go func() {
		if err := grpcServer.Start(cfg.GRPCPort); err != nil {
			logger.Error("gRPC server failed", zap.Error(err))
			return
		}
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down servers...")

	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Останавливаем HTTP сервер
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	// Останавливаем GRPC сервер
	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("gRPC server shutdown due to timeout")
		} else {
			logger.Error("gRPC server shutdown failed", zap.Error(err))
		}
	}

	// Таймеры останавливаются до закрытия хранилища, чтобы последний тик успел записаться
	missionService.Shutdown()

	logger.Info("Mission Telemetry Service stopped")
}
