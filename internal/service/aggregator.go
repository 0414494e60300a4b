// internal/service/aggregator.go
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/wacampaigns-backend/internal/audit"
	appErrors "github.com/unclebandit/wacampaigns-backend/internal/errors"
	"github.com/unclebandit/wacampaigns-backend/internal/metrics"
	"github.com/unclebandit/wacampaigns-backend/internal/model"
	"github.com/unclebandit/wacampaigns-backend/internal/repository"
)

// Aggregator owns campaign status transitions and the final counter write.
// Every method updates the in-memory campaign to match what it persisted.
type Aggregator struct {
	Campaigns repository.CampaignRepositoryInterface
	Audit     audit.Sink
	Logger    *zap.Logger
}

func (a *Aggregator) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}

// Begin moves a draft campaign to sending and records its audience size.
func (a *Aggregator) Begin(ctx context.Context, c *model.Campaign, total int) error {
	if err := a.transition(ctx, c, model.CampaignStatusSending); err != nil {
		return err
	}
	return a.SetTotal(ctx, c, total)
}

// Claim atomically moves a scheduled campaign to sending. It returns false
// when another trigger got there first or the campaign is no longer scheduled.
func (a *Aggregator) Claim(ctx context.Context, c *model.Campaign) (bool, error) {
	ok, err := a.Campaigns.TransitionStatus(ctx, c.ID, model.CampaignStatusScheduled, model.CampaignStatusSending)
	if err != nil {
		return false, appErrors.NewPersistenceError("claim campaign", err)
	}
	if ok {
		now := time.Now()
		c.Status = model.CampaignStatusSending
		c.StartedAt = &now
	}
	return ok, nil
}

func (a *Aggregator) SetTotal(ctx context.Context, c *model.Campaign, total int) error {
	if err := a.Campaigns.UpdateTotals(ctx, c.ID, total); err != nil {
		return appErrors.NewPersistenceError("set campaign total", err)
	}
	c.TotalContacts = total
	c.MessagesPending = total
	return nil
}

const claimRunOp = "claim campaign run"

// ClaimRun marks the start of the campaign's dispatch run. It returns
// ErrRunClaimed when a run already started, so a redelivered job never sends
// to the audience a second time.
func (a *Aggregator) ClaimRun(ctx context.Context, c *model.Campaign) error {
	ok, err := a.Campaigns.ClaimRun(ctx, c.ID)
	if err != nil {
		return appErrors.NewPersistenceError(claimRunOp, err)
	}
	if !ok {
		return fmt.Errorf("%w: campaign %s", appErrors.ErrRunClaimed, c.ID)
	}
	return nil
}

// Complete writes the run's counters once. A run cut short by cancellation
// keeps status cancelled and the unattempted recipients as pending;
// otherwise the campaign is completed with nothing pending. A cancel that
// lands after the last status check wins over completion.
func (a *Aggregator) Complete(ctx context.Context, c *model.Campaign, summary *DispatchSummary) error {
	status := model.CampaignStatusCompleted
	from := model.CampaignStatusSending
	pending := 0
	if summary.Cancelled {
		status = model.CampaignStatusCancelled
		from = model.CampaignStatusCancelled
		pending = summary.Pending()
	}

	p := repository.FinalizeParams{
		ID:          c.ID,
		From:        from,
		Status:      status,
		Total:       summary.Total,
		Sent:        summary.Sent,
		Failed:      summary.Failed,
		Pending:     pending,
		CompletedAt: time.Now(),
	}
	applied, err := a.finalize(ctx, c, p)
	if err != nil {
		return err
	}
	cancelled := summary.Cancelled
	if !applied {
		if summary.Cancelled {
			return a.lost(c, p)
		}
		current, err := a.Campaigns.GetStatus(context.WithoutCancel(ctx), c.ID)
		if err != nil {
			return appErrors.NewPersistenceError("read campaign status", err)
		}
		if current != model.CampaignStatusCancelled {
			return a.lost(c, p)
		}
		a.logger().Warn("campaign cancelled after its last status check",
			zap.String("campaign_id", c.ID.String()),
			zap.Int("sent", p.Sent),
			zap.Int("failed", p.Failed),
		)
		p.From = model.CampaignStatusCancelled
		p.Status = model.CampaignStatusCancelled
		if applied, err = a.finalize(ctx, c, p); err != nil {
			return err
		}
		if !applied {
			return a.lost(c, p)
		}
		cancelled = true
	}

	action, description := "campaign_completed", fmt.Sprintf("Campaign %q finished: %d sent, %d failed", c.Name, p.Sent, p.Failed)
	if c.SendType == model.SendTypeScheduled {
		action = "scheduled_campaign_executed"
	}
	if cancelled {
		action = "campaign_cancelled"
		description = fmt.Sprintf("Campaign %q cancelled after %d sent, %d failed", c.Name, p.Sent, p.Failed)
	}
	auditStatus := model.AuditSuccess
	if p.Failed > 0 || cancelled {
		auditStatus = model.AuditWarning
	}
	a.append(c, action, description, auditStatus, nil, map[string]any{
		"sent":    p.Sent,
		"failed":  p.Failed,
		"total":   p.Total,
		"pending": p.Pending,
	})
	return nil
}

// Fail moves the campaign to failed with reason. summary may be nil when the
// run never started; otherwise its partial counters are kept.
func (a *Aggregator) Fail(ctx context.Context, c *model.Campaign, reason error, summary *DispatchSummary) error {
	if !c.Status.CanTransition(model.CampaignStatusFailed) {
		return fmt.Errorf("%w: %s -> %s", appErrors.ErrInvalidTransition, c.Status, model.CampaignStatusFailed)
	}

	msg := reason.Error()
	p := repository.FinalizeParams{
		ID:           c.ID,
		From:         c.Status,
		Status:       model.CampaignStatusFailed,
		Total:        c.TotalContacts,
		CompletedAt:  time.Now(),
		ErrorMessage: &msg,
	}
	if summary != nil {
		p.Total = summary.Total
		p.Sent = summary.Sent
		p.Failed = summary.Failed
		p.Pending = summary.Pending()
	}
	applied, err := a.finalize(ctx, c, p)
	if err != nil {
		return err
	}
	if !applied {
		return a.lost(c, p)
	}

	a.append(c, "campaign_failed", fmt.Sprintf("Campaign %q failed", c.Name), model.AuditError, &msg, nil)
	return nil
}

// Cancel stops a scheduled or sending campaign. A sending campaign's
// dispatch run notices on its next status check.
func (a *Aggregator) Cancel(ctx context.Context, c *model.Campaign) error {
	if err := a.transition(ctx, c, model.CampaignStatusCancelled); err != nil {
		return err
	}
	a.append(c, "campaign_cancelled", fmt.Sprintf("Campaign %q cancelled by user", c.Name), model.AuditWarning, nil, nil)
	return nil
}

func (a *Aggregator) transition(ctx context.Context, c *model.Campaign, to model.CampaignStatus) error {
	if !c.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", appErrors.ErrInvalidTransition, c.Status, to)
	}
	ok, err := a.Campaigns.TransitionStatus(ctx, c.ID, c.Status, to)
	if err != nil {
		return appErrors.NewPersistenceError("update campaign status", err)
	}
	if !ok {
		return fmt.Errorf("%w: campaign %s is no longer %s", appErrors.ErrInvalidTransition, c.ID, c.Status)
	}

	now := time.Now()
	c.Status = to
	switch to {
	case model.CampaignStatusSending:
		c.StartedAt = &now
	case model.CampaignStatusCancelled:
		c.CompletedAt = &now
	}
	return nil
}

// finalize reports whether the write applied. A false return leaves c untouched.
func (a *Aggregator) finalize(ctx context.Context, c *model.Campaign, p repository.FinalizeParams) (bool, error) {
	// the final write must land even when the run was interrupted
	applied, err := a.Campaigns.Finalize(context.WithoutCancel(ctx), p)
	if err != nil {
		a.logger().Error("failed to persist campaign result",
			zap.String("campaign_id", c.ID.String()),
			zap.String("status", string(p.Status)),
			zap.Int("total", p.Total),
			zap.Int("sent", p.Sent),
			zap.Int("failed", p.Failed),
			zap.Int("pending", p.Pending),
			zap.Error(err),
		)
		return false, appErrors.NewPersistenceError("finalize campaign", err)
	}
	if !applied {
		return false, nil
	}

	c.Status = p.Status
	c.TotalContacts = p.Total
	c.MessagesSent = p.Sent
	c.MessagesFailed = p.Failed
	c.MessagesPending = p.Pending
	c.CompletedAt = &p.CompletedAt
	c.ErrorMessage = p.ErrorMessage

	metrics.CampaignsFinished.WithLabelValues(string(p.Status)).Inc()
	return true, nil
}

// lost reports a final write that found the campaign in another status.
func (a *Aggregator) lost(c *model.Campaign, p repository.FinalizeParams) error {
	a.logger().Warn("campaign result not written, status changed underneath the run",
		zap.String("campaign_id", c.ID.String()),
		zap.String("expected", string(p.From)),
		zap.String("status", string(p.Status)),
		zap.Int("sent", p.Sent),
		zap.Int("failed", p.Failed),
	)
	return fmt.Errorf("%w: campaign %s is no longer %s", appErrors.ErrInvalidTransition, c.ID, p.From)
}

func (a *Aggregator) append(c *model.Campaign, action, description string, status model.AuditStatus, details *string, metadata map[string]any) {
	if a.Audit == nil {
		return
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["campaign_id"] = c.ID.String()
	tenant := c.UserID
	a.Audit.Append(model.AuditEntry{
		UserID:       &tenant,
		ActionType:   action,
		Category:     model.AuditCampaign,
		Description:  description,
		Status:       status,
		ErrorDetails: details,
		Metadata:     metadata,
	})
}
