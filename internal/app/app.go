// internal/app/app.go
package app

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/unclebandit/wacampaigns-backend/internal/audit"
	"github.com/unclebandit/wacampaigns-backend/internal/config"
	"github.com/unclebandit/wacampaigns-backend/internal/db"
	"github.com/unclebandit/wacampaigns-backend/internal/gateway"
	"github.com/unclebandit/wacampaigns-backend/internal/repository"
	"github.com/unclebandit/wacampaigns-backend/internal/service"
)

// App holds the components shared by the server, worker and scheduler binaries.
type App struct {
	DB     *sqlx.DB
	Audit  *audit.Writer
	Twilio *gateway.TwilioSender

	Campaigns *repository.CampaignRepository
	Contacts  *repository.ContactRepository
	Templates *repository.TemplateRepository
	Messages  *repository.MessageRepository
	Configs   *repository.WhatsAppConfigRepository

	Aggregator *service.Aggregator
	Runner     *service.Runner
	Scheduler  *service.Scheduler
	Inbox      *service.InboxService
	Worker     *service.Worker
}

// New opens the database and wires repositories, gateway and services.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	conn, err := db.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}

	a := &App{
		DB:        conn,
		Campaigns: &repository.CampaignRepository{DB: conn},
		Contacts:  &repository.ContactRepository{DB: conn},
		Templates: &repository.TemplateRepository{DB: conn},
		Messages:  &repository.MessageRepository{DB: conn},
		Configs:   &repository.WhatsAppConfigRepository{DB: conn},
	}
	a.Audit = audit.NewWriter(&repository.AuditRepository{DB: conn}, cfg.AuditBuffer, logger)
	a.Twilio = gateway.NewTwilioSender(a.Configs, cfg.TwilioStatusCallback, logger)

	sender := &gateway.RetryingSender{
		Next:            a.Twilio,
		Attempts:        cfg.SendRetryAttempts,
		InitialInterval: time.Second,
	}

	a.Aggregator = &service.Aggregator{Campaigns: a.Campaigns, Audit: a.Audit, Logger: logger}
	a.Runner = &service.Runner{
		Templates: a.Templates,
		Resolver:  &service.Resolver{Contacts: a.Contacts},
		Dispatcher: &service.Dispatcher{
			Sender:           sender,
			Campaigns:        a.Campaigns,
			Messages:         a.Messages,
			Contacts:         a.Contacts,
			Audit:            a.Audit,
			Logger:           logger,
			Interval:         cfg.SendInterval,
			SendTimeout:      cfg.SendTimeout,
			CancelCheckEvery: cfg.CancelCheckEvery,
		},
		Aggregator: a.Aggregator,
		Logger:     logger,
	}
	a.Scheduler = &service.Scheduler{
		Campaigns:  a.Campaigns,
		Runner:     a.Runner,
		Aggregator: a.Aggregator,
		BatchSize:  cfg.SchedulerBatchSize,
		Logger:     logger,
	}
	a.Inbox = &service.InboxService{Configs: a.Configs, Contacts: a.Contacts, Messages: a.Messages, Audit: a.Audit, Logger: logger}
	a.Worker = service.NewWorker(a.Campaigns, a.Runner, logger)
	return a, nil
}

// Close flushes pending audit entries and closes the database.
func (a *App) Close(ctx context.Context) error {
	auditErr := a.Audit.Close(ctx)
	if err := a.DB.Close(); err != nil {
		return err
	}
	return auditErr
}
