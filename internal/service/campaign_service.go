// internal/service/campaign_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unclebandit/wacampaigns-backend/internal/audit"
	appErrors "github.com/unclebandit/wacampaigns-backend/internal/errors"
	"github.com/unclebandit/wacampaigns-backend/internal/model"
	"github.com/unclebandit/wacampaigns-backend/internal/queue"
	"github.com/unclebandit/wacampaigns-backend/internal/repository"
)

type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	ContactRepo  repository.ContactRepositoryInterface
	TemplateRepo repository.TemplateRepositoryInterface
	Resolver     *Resolver
	Aggregator   *Aggregator
	Queue        queue.Queue
	Topic        string
	Audit        audit.Sink
	Logger       *zap.Logger
}

type CreateCampaignInput struct {
	Name         string              `json:"name"`
	Description  *string             `json:"description"`
	TemplateID   *uuid.UUID          `json:"template_id"`
	SendType     model.SendType      `json:"send_type"`
	ScheduledAt  *string             `json:"scheduled_at"`
	TargetFilter *model.TargetFilter `json:"target_filter"`
}

// Result struct for SendCampaign
type SendCampaignResult struct {
	CampaignID uuid.UUID            `json:"campaign_id"`
	Recipients int                  `json:"recipients"`
	Status     model.CampaignStatus `json:"status"`
}

type CampaignDetails struct {
	model.Campaign
	Stats map[string]int `json:"stats"`
}

func (s *CampaignService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *CampaignService) topic() string {
	if s.Topic == "" {
		return queue.DefaultDispatchTopic
	}
	return s.Topic
}

// CreateCampaign stores a new campaign. Scheduled campaigns start as
// scheduled, everything else as draft; immediate ones are sent right away.
func (s *CampaignService) CreateCampaign(ctx context.Context, tenantID uuid.UUID, in CreateCampaignInput) (*model.Campaign, error) {
	c := &model.Campaign{
		UserID:       tenantID,
		Name:         strings.TrimSpace(in.Name),
		Description:  in.Description,
		TemplateID:   in.TemplateID,
		SendType:     in.SendType,
		TargetFilter: in.TargetFilter,
	}
	if c.SendType == "" {
		c.SendType = model.SendTypeManual
	}

	if in.ScheduledAt != nil && *in.ScheduledAt != "" {
		// parse scheduledAt string into time.Time
		t, err := time.Parse(time.RFC3339, *in.ScheduledAt)
		if err != nil {
			return nil, fmt.Errorf("%w: scheduled_at: %v", appErrors.ErrInvalidInput, err)
		}
		c.ScheduledAt = &t
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", appErrors.ErrInvalidInput, err)
	}
	if c.TemplateID != nil {
		if _, err := s.TemplateRepo.GetByID(ctx, tenantID, *c.TemplateID); err != nil {
			return nil, err
		}
	}
	c.Status = c.SendType.InitialStatus()

	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, err
	}
	s.appendAudit(c, "campaign_created", fmt.Sprintf("Campaign %q created", c.Name), model.AuditSuccess)

	if c.SendType == model.SendTypeImmediate {
		if _, err := s.sendCampaign(ctx, c); err != nil {
			return c, err
		}
	}
	return c, nil
}

// SendCampaign starts a draft campaign: the audience is resolved now so an
// empty one is reported to the caller, then a worker runs the dispatch.
func (s *CampaignService) SendCampaign(ctx context.Context, tenantID, campaignID uuid.UUID) (*SendCampaignResult, error) {
	c, err := s.CampaignRepo.GetByID(ctx, tenantID, campaignID)
	if err != nil {
		return nil, err
	}
	return s.sendCampaign(ctx, c)
}

func (s *CampaignService) sendCampaign(ctx context.Context, c *model.Campaign) (*SendCampaignResult, error) {
	if c.Status != model.CampaignStatusDraft {
		return nil, fmt.Errorf("%w: campaign cannot be sent in status %s", appErrors.ErrInvalidTransition, c.Status)
	}

	if c.TemplateID == nil {
		return nil, s.failBeforeSend(ctx, c, appErrors.ErrTemplateMissing)
	}
	if _, err := s.TemplateRepo.GetByID(ctx, c.UserID, *c.TemplateID); err != nil {
		if errors.Is(err, appErrors.ErrTemplateMissing) {
			return nil, s.failBeforeSend(ctx, c, err)
		}
		return nil, err
	}

	recipients, err := s.Resolver.Resolve(ctx, c.UserID, c.TargetFilter)
	if err != nil {
		return nil, err
	}

	if err := s.Aggregator.Begin(ctx, c, len(recipients)); err != nil {
		return nil, err
	}

	job := model.DispatchJob{CampaignID: c.ID, TenantID: c.UserID}
	if err := s.Queue.Publish(s.topic(), job); err != nil {
		cause := fmt.Errorf("failed to enqueue dispatch: %w", err)
		if ferr := s.Aggregator.Fail(ctx, c, cause, nil); ferr != nil {
			s.logger().Error("failed to mark campaign failed", zap.String("campaign_id", c.ID.String()), zap.Error(ferr))
		}
		return nil, cause
	}

	s.logger().Info("campaign queued for dispatch",
		zap.String("campaign_id", c.ID.String()),
		zap.Int("recipients", len(recipients)),
	)
	return &SendCampaignResult{
		CampaignID: c.ID,
		Recipients: len(recipients),
		Status:     c.Status,
	}, nil
}

func (s *CampaignService) failBeforeSend(ctx context.Context, c *model.Campaign, cause error) error {
	if err := s.Aggregator.Fail(ctx, c, cause, nil); err != nil {
		s.logger().Error("failed to mark campaign failed", zap.String("campaign_id", c.ID.String()), zap.Error(err))
	}
	return cause
}

func (s *CampaignService) CancelCampaign(ctx context.Context, tenantID, campaignID uuid.UUID) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, tenantID, campaignID)
	if err != nil {
		return nil, err
	}
	if err := s.Aggregator.Cancel(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, tenantID uuid.UUID, page, pageSize int, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, tenantID, offset, pageSize, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, tenantID, campaignID uuid.UUID) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, tenantID, campaignID)
	if err != nil {
		return nil, err
	}

	stats, err := s.CampaignRepo.GetCampaignStats(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return &CampaignDetails{Campaign: *campaign, Stats: stats}, nil
}

// RenderPreview renders the campaign's template, or overrideTemplate when
// given, for one of the tenant's contacts.
func (s *CampaignService) RenderPreview(ctx context.Context, tenantID, campaignID, contactID uuid.UUID, overrideTemplate *string) (string, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, tenantID, campaignID)
	if err != nil {
		return "", err
	}

	contact, err := s.ContactRepo.GetByID(ctx, tenantID, contactID)
	if err != nil {
		return "", err
	}

	var template string
	if overrideTemplate != nil && strings.TrimSpace(*overrideTemplate) != "" {
		template = *overrideTemplate
	} else {
		if campaign.TemplateID == nil {
			return "", appErrors.ErrTemplateMissing
		}
		tmpl, err := s.TemplateRepo.GetByID(ctx, tenantID, *campaign.TemplateID)
		if err != nil {
			return "", err
		}
		template = tmpl.Content
	}

	if strings.TrimSpace(template) == "" {
		return "", fmt.Errorf("%w: template cannot be empty", appErrors.ErrInvalidInput)
	}
	return RenderMessage(template, contact), nil
}

func (s *CampaignService) appendAudit(c *model.Campaign, action, description string, status model.AuditStatus) {
	if s.Audit == nil {
		return
	}
	tenant := c.UserID
	s.Audit.Append(model.AuditEntry{
		UserID:      &tenant,
		ActionType:  action,
		Category:    model.AuditCampaign,
		Description: description,
		Status:      status,
		Metadata: map[string]any{
			"campaign_id": c.ID.String(),
			"send_type":   string(c.SendType),
		},
	})
}
