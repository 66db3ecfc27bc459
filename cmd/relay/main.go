package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"lancast/internal/infrastructure/monitoring"
	"lancast/internal/infrastructure/relay"
	"lancast/internal/infrastructure/repositories"
	"lancast/internal/infrastructure/token"
	"lancast/pkg/config"
	"lancast/pkg/logger"
	"lancast/pkg/tracing"
)

func main() {
	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/lancast/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tp.Shutdown(shutdownCtx)
	}()

	dirFactory, err := repositories.NewDirectoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create directory factory", "error", err)
	}
	defer dirFactory.Close()
	directory := repositories.NewCachedSessionDirectory(dirFactory.CreateSessionDirectory(), time.Second)
	defer directory.Stop()

	resolver := token.NewJWTResolver(cfg.Auth.TokenSecret, cfg.Auth.TokenTTL)
	collector := monitoring.NewPrometheusCollector()

	health := monitoring.NewHealthChecker()
	health.AddDirectoryCheck(directory, 2*time.Second)
	if client := dirFactory.RedisClient(); client != nil {
		health.AddRedisCheck(client, 2*time.Second)
	}

	server := relay.NewServer(cfg, resolver, directory, collector, health, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Infow("starting relay", "address", cfg.Relay.Address)
	if err := server.Run(ctx); err != nil {
		log.Fatalw("relay exited with error", "error", err)
	}
	log.Info("relay stopped")
}
