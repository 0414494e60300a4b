// cmd/scheduler/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/unclebandit/wacampaigns-backend/internal/app"
	"github.com/unclebandit/wacampaigns-backend/internal/config"
	"github.com/unclebandit/wacampaigns-backend/internal/metrics"
)

// The scheduler activates due scheduled campaigns on SCHEDULER_SPEC.
func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise", zap.Error(err))
	}
	metrics.Init()

	// a tick that fires while the previous pass is still sending is skipped
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err = c.AddFunc(cfg.SchedulerSpec, func() {
		summary, err := a.Scheduler.Trigger(ctx, time.Now())
		if err != nil {
			logger.Error("scheduler pass failed", zap.Error(err))
			return
		}
		if summary.ProcessedCount > 0 {
			logger.Info("scheduler pass processed campaigns", zap.Int("processed", summary.ProcessedCount))
		}
	})
	if err != nil {
		logger.Fatal("invalid scheduler spec", zap.String("spec", cfg.SchedulerSpec), zap.Error(err))
	}

	c.Start()
	logger.Info("scheduler started", zap.String("spec", cfg.SchedulerSpec))
	<-ctx.Done()

	logger.Info("shutting down scheduler...")
	<-c.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(shutdownCtx); err != nil {
		logger.Error("failed to close resources", zap.Error(err))
	}
}
