package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arjunmehta/hlsvod/internal/config"
	"github.com/arjunmehta/hlsvod/internal/database"
	"github.com/arjunmehta/hlsvod/internal/logging"
	"github.com/arjunmehta/hlsvod/internal/metrics"
	"github.com/arjunmehta/hlsvod/internal/prober"
	"github.com/arjunmehta/hlsvod/internal/queue"
	"github.com/arjunmehta/hlsvod/internal/storage"
	"github.com/arjunmehta/hlsvod/internal/tracing"
	"github.com/arjunmehta/hlsvod/internal/transcoder"
	"github.com/arjunmehta/hlsvod/internal/worker"
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
		_, closer, err := tracing.InitTracer(cfg.AppName+"-worker", endpoint)
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.StartDispatcher(ctx, time.Second)

	metricsSrv := metrics.NewServer(cfg.MetricsPort)
	go func() {
		if err := metricsSrv.Start(); err != nil {
			logr.WithError(err).Errorf("metrics server stopped unexpectedly")
		}
	}()

	runner := transcoder.NewFFmpegRunner(cfg.Transcoder.FFmpegPath, cfg.Transcoder.FFprobePath)
	mediaProber := prober.New(runner, stor)
	transcoderService := transcoder.NewService(runner, stor, cfg.Transcoder.TempDir, logr)

	pool := worker.New(worker.Config{
		Workers:                cfg.Transcoder.WorkerCount,
		DeleteSourceOnComplete: true,
	}, q, repo, mediaProber, transcoderService, stor, logr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logr.Infof("shutting down worker gracefully...")
		cancel()
	}()

	logr.Infof("worker started with %d goroutines, waiting for jobs...", cfg.Transcoder.WorkerCount)
	pool.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logr.WithError(err).Warnf("metrics server forced to shutdown")
	}

	logr.Infof("worker stopped")
}
