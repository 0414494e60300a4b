// cmd/server/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/unclebandit/wacampaigns-backend/internal/app"
	"github.com/unclebandit/wacampaigns-backend/internal/config"
	"github.com/unclebandit/wacampaigns-backend/internal/controller"
	"github.com/unclebandit/wacampaigns-backend/internal/handler"
	"github.com/unclebandit/wacampaigns-backend/internal/metrics"
	"github.com/unclebandit/wacampaigns-backend/internal/model"
	"github.com/unclebandit/wacampaigns-backend/internal/queue"
	"github.com/unclebandit/wacampaigns-backend/internal/service"
)

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

	// ------------------------------------------------
	// Dispatch queue: the broker when configured, otherwise in-process
	// ------------------------------------------------
	var q queue.Queue
	var memQueue *queue.InMemoryQueue
	if cfg.AMQPURL != "" {
		broker, err := queue.DialAMQP(cfg.AMQPURL, logger)
		if err != nil {
			logger.Fatal("failed to connect to broker", zap.Error(err))
		}
		defer broker.Close()
		q = broker
		logger.Info("publishing dispatch jobs to broker", zap.String("queue", cfg.DispatchQueue))
	} else {
		memQueue = queue.NewInMemoryQueue(logger)
		err := queue.StartCampaignDispatchSubscriber(memQueue, cfg.DispatchQueue, func(job model.DispatchJob) error {
			return a.Worker.Process(ctx, job)
		}, logger)
		if err != nil {
			logger.Fatal("failed to subscribe dispatch worker", zap.Error(err))
		}
		q = memQueue
		logger.Info("running dispatch jobs in-process")
	}

	campaignController := &controller.CampaignController{
		CampaignService: &service.CampaignService{
			CampaignRepo: a.Campaigns,
			ContactRepo:  a.Contacts,
			TemplateRepo: a.Templates,
			Resolver:     &service.Resolver{Contacts: a.Contacts},
			Aggregator:   a.Aggregator,
			Queue:        q,
			Topic:        cfg.DispatchQueue,
			Audit:        a.Audit,
			Logger:       logger,
		},
		TemplateService: &service.TemplateService{TemplateRepo: a.Templates},
		Scheduler:       a.Scheduler,
		Logger:          logger,
	}
	whatsappHandler := handler.NewWhatsAppHandler(a.Inbox, a.Twilio, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	campaignController.Routes(r)
	whatsappHandler.Routes(r)

	apiServer := &http.Server{Addr: ":" + cfg.APIPort, Handler: r}
	go func() {
		logger.Info("api server started", zap.String("port", cfg.APIPort))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("api server error", zap.Error(err))
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: metricsMux}
	go func() {
		logger.Info("metrics server started", zap.String("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("metrics server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down services...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}
	// in-flight runs see ctx cancelled and record themselves as failed
	if memQueue != nil {
		memQueue.Wait()
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", zap.Error(err))
	}
	if err := a.Close(shutdownCtx); err != nil {
		logger.Error("failed to close resources", zap.Error(err))
	}
	logger.Info("application shutdown complete")
}
