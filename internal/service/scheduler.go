// internal/service/scheduler.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/wacampaigns-backend/internal/errors"
	"github.com/unclebandit/wacampaigns-backend/internal/metrics"
	"github.com/unclebandit/wacampaigns-backend/internal/model"
	"github.com/unclebandit/wacampaigns-backend/internal/repository"
)

const DefaultSchedulerBatchSize = 5

// Runner drives a campaign that is already sending to a terminal status:
// load template, resolve audience, dispatch, write counters.
type Runner struct {
	Templates  repository.TemplateRepositoryInterface
	Resolver   *Resolver
	Dispatcher *Dispatcher
	Aggregator *Aggregator
	Logger     *zap.Logger
}

// LoadTemplate returns ErrTemplateMissing for a campaign without a usable template.
func (r *Runner) LoadTemplate(ctx context.Context, c *model.Campaign) (*model.MessageTemplate, error) {
	if c.TemplateID == nil {
		return nil, appErrors.ErrTemplateMissing
	}
	return r.Templates.GetByID(ctx, c.UserID, *c.TemplateID)
}

// Run executes the campaign's one dispatch run. It returns ErrRunClaimed,
// leaving the campaign as it is, when a run already started. Whole-run
// failures (missing template, empty audience) move the campaign to failed
// before anything is sent.
func (r *Runner) Run(ctx context.Context, c *model.Campaign) (*DispatchSummary, error) {
	log := r.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("campaign_id", c.ID.String()), zap.String("tenant_id", c.UserID.String()))

	if err := r.Aggregator.ClaimRun(ctx, c); err != nil {
		return nil, err
	}

	tmpl, err := r.LoadTemplate(ctx, c)
	if err != nil {
		return nil, r.abort(ctx, c, err, nil, log)
	}

	recipients, err := r.Resolver.Resolve(ctx, c.UserID, c.TargetFilter)
	if err != nil {
		return nil, r.abort(ctx, c, err, nil, log)
	}
	if err := r.Aggregator.SetTotal(ctx, c, len(recipients)); err != nil {
		log.Warn("failed to record audience size", zap.Error(err))
	}
	if err := r.Templates.IncrementUsage(ctx, tmpl.ID); err != nil {
		log.Warn("failed to bump template usage", zap.Error(err))
	}

	summary, err := r.Dispatcher.Dispatch(ctx, c, tmpl, recipients)
	if err != nil {
		return summary, r.abort(ctx, c, fmt.Errorf("dispatch interrupted: %w", err), summary, log)
	}

	if err := r.Aggregator.Complete(ctx, c, summary); err != nil {
		return summary, err
	}
	return summary, nil
}

func (r *Runner) abort(ctx context.Context, c *model.Campaign, cause error, summary *DispatchSummary, log *zap.Logger) error {
	log.Warn("campaign run aborted", zap.Error(cause))
	if err := r.Aggregator.Fail(ctx, c, cause, summary); err != nil {
		log.Error("failed to mark campaign failed", zap.Error(err))
	}
	return cause
}

// CampaignRunResult is one campaign's line in a trigger summary.
type CampaignRunResult struct {
	CampaignID uuid.UUID            `json:"campaign_id"`
	Name       string               `json:"name"`
	Status     model.CampaignStatus `json:"status"`
	Sent       int                  `json:"sent"`
	Failed     int                  `json:"failed"`
	Error      string               `json:"error,omitempty"`
}

type TriggerSummary struct {
	ProcessedCount int                 `json:"processed_count"`
	Results        []CampaignRunResult `json:"results"`
}

// Scheduler activates due scheduled campaigns. One trigger handles its batch
// sequentially; overlapping triggers are safe because each campaign is
// claimed with a conditional status update before it is touched.
type Scheduler struct {
	Campaigns  repository.CampaignRepositoryInterface
	Runner     *Runner
	Aggregator *Aggregator
	BatchSize  int
	Logger     *zap.Logger

	mu sync.Mutex
}

func (s *Scheduler) Trigger(ctx context.Context, now time.Time) (*TriggerSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.Logger
	if log == nil {
		log = zap.NewNop()
	}
	batch := s.BatchSize
	if batch <= 0 {
		batch = DefaultSchedulerBatchSize
	}

	due, err := s.Campaigns.ListDue(ctx, now, batch)
	if err != nil {
		return nil, err
	}

	summary := &TriggerSummary{Results: []CampaignRunResult{}}
	for _, c := range due {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if !c.IsDue(now) {
			continue
		}

		claimed, err := s.Aggregator.Claim(ctx, c)
		if err != nil {
			log.Error("failed to claim campaign", zap.String("campaign_id", c.ID.String()), zap.Error(err))
			metrics.SchedulerClaims.WithLabelValues("error").Inc()
			continue
		}
		if !claimed {
			log.Info("campaign already claimed, skipping", zap.String("campaign_id", c.ID.String()))
			metrics.SchedulerClaims.WithLabelValues("skipped").Inc()
			continue
		}
		metrics.SchedulerClaims.WithLabelValues("claimed").Inc()

		result := CampaignRunResult{CampaignID: c.ID, Name: c.Name}
		run, err := s.Runner.Run(ctx, c)
		if run != nil {
			result.Sent = run.Sent
			result.Failed = run.Failed
		}
		if err != nil {
			result.Error = err.Error()
		}
		result.Status = c.Status
		summary.Results = append(summary.Results, result)
		summary.ProcessedCount++

		if errors.Is(err, context.Canceled) {
			return summary, err
		}
	}

	log.Info("scheduler trigger finished", zap.Int("due", len(due)), zap.Int("processed", summary.ProcessedCount))
	return summary, nil
}
