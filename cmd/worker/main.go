package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/medassist-platform/cmd/mainconfig"
	"github.com/wolfman30/medassist-platform/internal/app/bootstrap"
	appconfig "github.com/wolfman30/medassist-platform/internal/config"
	"github.com/wolfman30/medassist-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	worker, err := bootstrap.BuildWorker(ctx, cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to build worker", "error", err)
		os.Exit(1)
	}
	defer worker.Close()

	worker.Reviews.Start(ctx)

	var sweeper sync.WaitGroup
	sweeper.Add(1)
	go func() {
		defer sweeper.Done()
		worker.Retention.Run(ctx, cfg.RetentionInterval)
	}()
	logger.Info("worker started",
		"workers", cfg.WorkerCount,
		"retention_days", cfg.RetentionDays,
		"retention_interval", cfg.RetentionInterval.String(),
	)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Reviews.Wait()
		sweeper.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("worker stopped")
	case <-doneCtx.Done():
		logger.Error("worker shutdown timed out", "error", doneCtx.Err())
	}
}
