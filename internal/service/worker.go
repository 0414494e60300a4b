package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/wacampaigns-backend/internal/errors"
	"github.com/unclebandit/wacampaigns-backend/internal/model"
	"github.com/unclebandit/wacampaigns-backend/internal/repository"
)

// Worker processes dispatch jobs taken off the queue
type Worker struct {
	CampaignRepo repository.CampaignRepositoryInterface
	Runner       *Runner
	Logger       *zap.Logger
}

// Constructor
func NewWorker(repo repository.CampaignRepositoryInterface, runner *Runner, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		CampaignRepo: repo,
		Runner:       runner,
		Logger:       logger,
	}
}

// Process runs one job. It returns an error only when the job should be
// retried, which is never the case once the run has been claimed.
func (w *Worker) Process(ctx context.Context, job model.DispatchJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := w.CampaignRepo.GetByID(ctx, job.TenantID, job.CampaignID)
	if err != nil {
		var nf *appErrors.ErrCampaignNotFound
		if errors.As(err, &nf) {
			w.Logger.Warn("dispatch job for missing campaign", zap.String("campaign_id", job.CampaignID.String()))
			return nil
		}
		return err
	}
	if c.Status != model.CampaignStatusSending {
		w.Logger.Info("skipping dispatch job",
			zap.String("campaign_id", c.ID.String()),
			zap.String("status", string(c.Status)),
		)
		return nil
	}

	summary, err := w.Runner.Run(ctx, c)
	if errors.Is(err, appErrors.ErrRunClaimed) {
		// an earlier delivery of this job already ran, possibly only partly
		w.Logger.Warn("dispatch run already claimed, dropping job", zap.String("campaign_id", c.ID.String()))
		return nil
	}
	var perr *appErrors.PersistenceError
	if errors.As(err, &perr) && perr.Op == claimRunOp {
		return err
	}
	if err != nil {
		w.Logger.Warn("campaign run ended with error", zap.String("campaign_id", c.ID.String()), zap.Error(err))
		return nil
	}
	w.Logger.Info("campaign run finished",
		zap.String("campaign_id", c.ID.String()),
		zap.String("status", string(c.Status)),
		zap.Int("sent", summary.Sent),
		zap.Int("failed", summary.Failed),
	)
	return nil
}
