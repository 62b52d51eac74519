package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"rebarquality/config"
	"rebarquality/db"
	qhttp "rebarquality/http"
	"rebarquality/logging"
	"rebarquality/predict"
	"rebarquality/session"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// 1. Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(logging.Options{
		Level:    cfg.Log.Level,
		Encoding: cfg.Log.Encoding,
		File:     cfg.Log.File,
		MaxSize:  cfg.Log.MaxSize,
		MaxAge:   cfg.Log.MaxAge,
	})
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Model cache
	cache, err := predict.NewArtifactCache(cfg.Models.Dir, cfg.Models.CacheSize, logger)
	if err != nil {
		return fmt.Errorf("failed to create model cache: %w", err)
	}
	if cfg.Models.Watch {
		if err := cache.Watch(ctx); err != nil {
			logger.Warn("model directory watch disabled", zap.String("dir", cfg.Models.Dir), zap.Error(err))
		}
	}
	defer cache.Close()

	deps := qhttp.Deps{
		Predictor: predict.NewPredictor(cache, nil, logger),
		Sessions:  session.NewStore(cfg.Session.Capacity, cfg.Session.TTL),
		Logger:    logger,
	}

	// 3. Training run log, read-only here
	if cfg.Database.Path != "" {
		runs, err := db.Open(cfg.Database.Path)
		if err != nil {
			logger.Warn("training run log unavailable", zap.String("path", cfg.Database.Path), zap.Error(err))
		} else {
			defer runs.Close()
			deps.Runs = runs
		}
	}

	// 4. Start HTTP server
	server := qhttp.NewServer(qhttp.ServerConfig{
		Port:           cfg.Http.Port,
		Timeout:        cfg.Http.Timeout,
		AllowedOrigins: cfg.Http.AllowedOrigins,
	}, deps)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// 5. Handle graceful shutdown
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	if err := server.Stop(); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	logger.Info("exiting")
	return nil
}
