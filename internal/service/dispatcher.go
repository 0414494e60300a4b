// internal/service/dispatcher.go
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/unclebandit/wacampaigns-backend/internal/audit"
	appErrors "github.com/unclebandit/wacampaigns-backend/internal/errors"
	"github.com/unclebandit/wacampaigns-backend/internal/gateway"
	"github.com/unclebandit/wacampaigns-backend/internal/metrics"
	"github.com/unclebandit/wacampaigns-backend/internal/model"
	"github.com/unclebandit/wacampaigns-backend/internal/repository"
)

const (
	DefaultSendInterval = 500 * time.Millisecond
	DefaultSendTimeout  = 15 * time.Second
)

// DispatchSummary is the outcome of one dispatch run.
type DispatchSummary struct {
	CampaignID uuid.UUID              `json:"campaign_id"`
	Total      int                    `json:"total"`
	Sent       int                    `json:"sent"`
	Failed     int                    `json:"failed"`
	Cancelled  bool                   `json:"cancelled"`
	Results    []model.DispatchResult `json:"results"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
}

// Pending is the number of recipients the run never attempted.
func (s *DispatchSummary) Pending() int {
	return s.Total - s.Sent - s.Failed
}

// Dispatcher sends a campaign to its recipients one at a time, in order.
// Counters live in the summary of a single run and are never shared.
type Dispatcher struct {
	Sender    gateway.Sender
	Campaigns repository.CampaignRepositoryInterface
	Messages  repository.MessageRepositoryInterface
	Contacts  repository.ContactRepositoryInterface
	Audit     audit.Sink
	Logger    *zap.Logger

	// Interval is the pause after each send but the last, measured from the
	// end of the send. Zero disables pacing.
	Interval time.Duration
	// SendTimeout bounds each gateway call. Zero means DefaultSendTimeout.
	SendTimeout time.Duration
	// CancelCheckEvery re-reads the campaign status before every Nth send.
	// Zero or one checks before each send.
	CancelCheckEvery int
}

func (d *Dispatcher) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// pause blocks for one Interval starting now, or until ctx is done.
func (d *Dispatcher) pause(ctx context.Context) error {
	if d.Interval <= 0 {
		return ctx.Err()
	}
	gap := rate.NewLimiter(rate.Every(d.Interval), 1)
	gap.Allow()
	return gap.Wait(ctx)
}

// Dispatch runs the campaign over recipients. A failed send never stops the
// run. The run ends early when the campaign is cancelled, reported through
// summary.Cancelled, or when ctx is done, reported as an error alongside the
// partial summary.
func (d *Dispatcher) Dispatch(ctx context.Context, campaign *model.Campaign, tmpl *model.MessageTemplate, recipients []model.Contact) (*DispatchSummary, error) {
	log := d.logger().With(zap.String("campaign_id", campaign.ID.String()), zap.String("tenant_id", campaign.UserID.String()))

	summary := &DispatchSummary{
		CampaignID: campaign.ID,
		Total:      len(recipients),
		Results:    make([]model.DispatchResult, 0, len(recipients)),
		StartedAt:  time.Now(),
	}
	defer func() {
		summary.FinishedAt = time.Now()
		metrics.DispatchDuration.Observe(summary.FinishedAt.Sub(summary.StartedAt).Seconds())
	}()

	every := d.CancelCheckEvery
	if every < 1 {
		every = 1
	}

	log.Info("dispatch started", zap.Int("recipients", len(recipients)))
	for i := range recipients {
		if i > 0 {
			if err := d.pause(ctx); err != nil {
				return summary, err
			}
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		if i%every == 0 && d.cancelled(ctx, campaign.ID, log) {
			summary.Cancelled = true
			log.Info("campaign cancelled mid-run", zap.Int("sent", summary.Sent), zap.Int("failed", summary.Failed))
			break
		}

		result := d.sendOne(ctx, campaign, tmpl, &recipients[i], log)
		summary.Results = append(summary.Results, result)
		if result.Outcome == model.OutcomeSent {
			summary.Sent++
		} else {
			summary.Failed++
		}
	}

	log.Info("dispatch finished",
		zap.Int("sent", summary.Sent),
		zap.Int("failed", summary.Failed),
		zap.Bool("cancelled", summary.Cancelled),
	)
	return summary, nil
}

// cancelled reports whether the live campaign row says cancelled.
// A failed lookup is logged and treated as not cancelled.
func (d *Dispatcher) cancelled(ctx context.Context, id uuid.UUID, log *zap.Logger) bool {
	if d.Campaigns == nil {
		return false
	}
	status, err := d.Campaigns.GetStatus(ctx, id)
	if err != nil {
		log.Warn("failed to check campaign status", zap.Error(err))
		return false
	}
	return status == model.CampaignStatusCancelled
}

func (d *Dispatcher) sendOne(ctx context.Context, campaign *model.Campaign, tmpl *model.MessageTemplate, rcpt *model.Contact, log *zap.Logger) model.DispatchResult {
	body := RenderMessage(tmpl.Content, rcpt)
	msg := gateway.Message{
		TenantID: campaign.UserID,
		To:       rcpt.Phone,
		Body:     body,
	}
	if tmpl.WhatsAppTemplateID != nil && *tmpl.WhatsAppTemplateID != "" {
		msg.ContentSID = *tmpl.WhatsAppTemplateID
		msg.ContentVariables = map[string]string{"1": rcpt.FullName}
	}

	timeout := d.SendTimeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	receipt, err := d.Sender.Send(sendCtx, msg)
	cancel()

	result := model.DispatchResult{ContactID: rcpt.ID, Phone: rcpt.Phone}
	now := time.Now()
	row := &model.Message{
		UserID:     campaign.UserID,
		CampaignID: &campaign.ID,
		ContactID:  rcpt.ID,
		TemplateID: &tmpl.ID,
		Direction:  model.DirectionOutbound,
		Content:    body,
		Phone:      rcpt.Phone,
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = appErrors.NewSendError("timeout", err.Error())
		}
		result.Outcome = model.OutcomeFailed
		result.Error = err.Error()
		var sendErr *appErrors.SendError
		if errors.As(err, &sendErr) && sendErr.Code != "" {
			result.ErrorCode = sendErr.Code
			row.ErrorCode = &result.ErrorCode
		}
		row.Status = model.MessageStatusFailed
		row.ErrorMessage = &result.Error

		metrics.MessagesFailed.Inc()
		log.Warn("message send failed", zap.String("contact_id", rcpt.ID.String()), zap.Error(err))
	} else {
		result.Outcome = model.OutcomeSent
		if receipt != nil {
			result.ExternalID = receipt.ExternalID
		}
		row.Status = model.MessageStatusSent
		row.ProviderMessageID = &result.ExternalID
		row.SentAt = &now

		metrics.MessagesSent.Inc()
	}

	d.record(ctx, row, log)
	d.audit(campaign, rcpt, result)
	return result
}

// record persists the per-recipient row. Failures here never affect the run.
func (d *Dispatcher) record(ctx context.Context, row *model.Message, log *zap.Logger) {
	ctx = context.WithoutCancel(ctx)
	if d.Messages != nil {
		if err := d.Messages.Create(ctx, row); err != nil {
			log.Error("failed to record message", zap.String("contact_id", row.ContactID.String()), zap.Error(err))
		}
	}
	if d.Contacts != nil && row.Status == model.MessageStatusSent {
		if err := d.Contacts.TouchLastMessageSent(ctx, row.ContactID, *row.SentAt); err != nil {
			log.Warn("failed to update contact", zap.String("contact_id", row.ContactID.String()), zap.Error(err))
		}
	}
}

func (d *Dispatcher) audit(campaign *model.Campaign, rcpt *model.Contact, result model.DispatchResult) {
	if d.Audit == nil {
		return
	}
	tenant := campaign.UserID
	entry := model.AuditEntry{
		UserID:   &tenant,
		Category: model.AuditCampaign,
		Metadata: map[string]any{
			"campaign_id": campaign.ID.String(),
			"contact_id":  rcpt.ID.String(),
			"phone":       rcpt.Phone,
		},
	}
	if result.Outcome == model.OutcomeSent {
		entry.ActionType = "campaign_sent"
		entry.Status = model.AuditSuccess
		entry.Description = "Message sent to " + rcpt.FullName
		entry.Metadata["message_sid"] = result.ExternalID
	} else {
		entry.ActionType = "campaign_error"
		entry.Status = model.AuditError
		entry.Description = "Failed to send message to " + rcpt.FullName
		entry.ErrorDetails = &result.Error
	}
	d.Audit.Append(entry)
}
