package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/arjunmehta/hlsvod/internal/cache"
	"github.com/arjunmehta/hlsvod/internal/config"
	"github.com/arjunmehta/hlsvod/internal/database"
	"github.com/arjunmehta/hlsvod/internal/logging"
	"github.com/arjunmehta/hlsvod/internal/metrics"
	"github.com/arjunmehta/hlsvod/internal/producer"
	"github.com/arjunmehta/hlsvod/internal/queue"
	"github.com/arjunmehta/hlsvod/internal/storage"
	"github.com/arjunmehta/hlsvod/internal/streamer"
	"github.com/arjunmehta/hlsvod/internal/tracing"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logLevel := "info"
	if cfg.AppEnv == config.EnvDevelopment {
		logLevel = "debug"
	}
	logFormat := "json"
	if cfg.AppEnv != config.EnvProduction {
		logFormat = "console"
	}
	logr, err := logging.NewLogger(logging.Config{Level: logLevel, Format: logFormat, Output: "stdout"})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	if endpoint := os.Getenv("JAEGER_ENDPOINT"); endpoint != "" {
		_, closer, err := tracing.InitTracer(cfg.AppName+"-api", endpoint)
		if err != nil {
			logr.WithError(err).Warnf("failed to initialize tracer, continuing without tracing")
		} else {
			defer closer.Close()
		}
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	repo := database.NewRepository(db)

	stor, err := storage.New(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	q, err := queue.New(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()

	rcache, err := cache.New(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to cache: %v", err)
	}
	defer rcache.Close()

	api := &API{
		repo:     repo,
		producer: producer.New(repo, q),
		streamer: streamer.New(repo, stor),
		cache:    rcache,
		storage:  stor,
		log:      logr,
	}

	router := setupRouter(api, cfg.HTTP)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		logr.Infof("starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	metricsSrv := metrics.NewServer(cfg.MetricsPort)
	go func() {
		if err := metricsSrv.Start(); err != nil {
			logr.WithError(err).Errorf("metrics server stopped unexpectedly")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logr.Infof("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	if err := metricsSrv.Shutdown(ctx); err != nil {
		logr.WithError(err).Warnf("metrics server forced to shutdown")
	}

	logr.Infof("server stopped")
}
