package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"irisnet/config"
	"irisnet/db"
	ihttp "irisnet/http"
	"irisnet/logging"
	"irisnet/monitoring"
	"irisnet/pipeline"
)

func main() {
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	store, err := db.Open(cfg.Database)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer store.Close()
	logger.Info("database opened", zap.String("path", cfg.Database.Path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := monitoring.NewHub(logger.Named("hub"))
	go hub.Run(ctx)

	metrics := monitoring.NewMetricsCollector()
	runner := pipeline.NewRunner(cfg,
		pipeline.WithStore(store),
		pipeline.WithMetrics(metrics),
		pipeline.WithPublisher(hub),
		pipeline.WithLogger(logger.Named("pipeline")),
		pipeline.WithConfigPath(configPath),
	)

	serverConfig := ihttp.DefaultServerConfig()
	serverConfig.Port = cfg.Http.Port
	server, err := ihttp.NewServer(serverConfig, store, runner, hub, metrics, logger.Named("http"))
	if err != nil {
		logger.Fatal("failed to create server", zap.Error(err))
	}
	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	if cfg.Watch {
		paths := []string{configPath}
		if cfg.Dataset.Path != "" {
			paths = append(paths, cfg.Dataset.Path)
		}
		go func() {
			if err := runner.Watch(ctx, paths...); err != nil {
				logger.Error("watch stopped", zap.Error(err))
			}
		}()
		logger.Info("watching for changes", zap.Strings("paths", paths))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	cancel()
	if err := server.Stop(); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}
	logger.Info("exiting")
}
