// cmd/worker/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/unclebandit/wacampaigns-backend/internal/app"
	"github.com/unclebandit/wacampaigns-backend/internal/config"
	"github.com/unclebandit/wacampaigns-backend/internal/metrics"
	"github.com/unclebandit/wacampaigns-backend/internal/model"
	"github.com/unclebandit/wacampaigns-backend/internal/queue"
)

// The worker consumes dispatch jobs from the broker and runs each campaign.
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
	if cfg.AMQPURL == "" {
		logger.Fatal("AMQP_URL is required for the standalone worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise", zap.Error(err))
	}
	metrics.Init()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: metricsMux}
	go func() {
		logger.Info("metrics server started", zap.String("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	broker, err := queue.DialAMQP(cfg.AMQPURL, logger)
	if err != nil {
		logger.Fatal("failed to connect to broker", zap.Error(err))
	}

	err = queue.StartCampaignDispatchSubscriber(broker, cfg.DispatchQueue, func(job model.DispatchJob) error {
		return a.Worker.Process(ctx, job)
	}, logger)
	if err != nil {
		logger.Fatal("failed to register consumer", zap.Error(err))
	}

	logger.Info("worker running, waiting for jobs", zap.String("queue", cfg.DispatchQueue))
	<-ctx.Done()

	logger.Info("shutting down worker...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// a running campaign sees ctx cancelled and records itself before its
	// job is acked, so the database stays open until the consumers drain
	if err := broker.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to close broker connection", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", zap.Error(err))
	}
	if err := a.Close(shutdownCtx); err != nil {
		logger.Error("failed to close resources", zap.Error(err))
	}
}
