// internal/service/inbox_service.go
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
	"github.com/unclebandit/wacampaigns-backend/internal/gateway"
	"github.com/unclebandit/wacampaigns-backend/internal/model"
	"github.com/unclebandit/wacampaigns-backend/internal/repository"
)

// replies containing any of these block the sender
var optOutKeywords = []string{"stop", "baja", "cancelar", "desuscribir", "no más", "no mas", "eliminar", "parar"}

// IsOptOut reports whether an inbound body asks to stop receiving messages.
func IsOptOut(body string) bool {
	text := strings.ToLower(strings.TrimSpace(body))
	for _, kw := range optOutKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// InboundMessage is a reply delivered by the gateway webhook. To is the
// tenant's sender number the reply was addressed to.
type InboundMessage struct {
	From        string
	To          string
	Body        string
	MessageSID  string
	ProfileName string
}

type InboxResult struct {
	ContactID *uuid.UUID `json:"contact_id,omitempty"`
	OptedOut  bool       `json:"opted_out"`
}

// InboxService records replies to campaigns and honours opt-outs.
type InboxService struct {
	Configs  repository.WhatsAppConfigRepositoryInterface
	Contacts repository.ContactRepositoryInterface
	Messages repository.MessageRepositoryInterface
	Audit    audit.Sink
	Logger   *zap.Logger
}

func (s *InboxService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// Receive handles one inbound message. The sender is looked up only among
// the contacts of the tenant owning the To number. Unknown senders and
// numbers no tenant owns are ignored.
func (s *InboxService) Receive(ctx context.Context, in InboundMessage) (*InboxResult, error) {
	phone := gateway.StripWhatsAppPrefix(in.From)
	to := gateway.StripWhatsAppPrefix(in.To)
	if phone == "" || to == "" || in.Body == "" {
		return nil, fmt.Errorf("%w: from, to and body are required", appErrors.ErrInvalidInput)
	}

	cfg, err := s.Configs.GetByPhoneNumber(ctx, to)
	if errors.Is(err, appErrors.ErrGatewayNotConfigured) {
		s.logger().Info("message to a number no tenant owns", zap.String("to", to))
		return &InboxResult{}, nil
	}
	if err != nil {
		return nil, err
	}

	contact, err := s.Contacts.FindByPhone(ctx, cfg.UserID, phone)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		s.logger().Info("message from unknown number", zap.String("phone", phone), zap.String("tenant_id", cfg.UserID.String()))
		return &InboxResult{}, nil
	}

	result := &InboxResult{ContactID: &contact.ID}
	name := contact.FullName
	if name == "" {
		name = phone
	}

	if IsOptOut(in.Body) {
		if err := s.Contacts.Block(ctx, contact.ID); err != nil {
			return nil, err
		}
		result.OptedOut = true
		s.append(contact, "contact_opted_out", model.AuditContact, name+" asked to unsubscribe", model.AuditWarning, map[string]any{
			"contact_id": contact.ID.String(),
			"phone":      phone,
			"message":    in.Body,
		})
		return result, nil
	}

	last, err := s.Messages.LastSentToContact(ctx, contact.ID)
	if err != nil {
		s.logger().Warn("failed to look up last sent message", zap.String("contact_id", contact.ID.String()), zap.Error(err))
	}

	now := time.Now()
	inbound := &model.Message{
		UserID:    contact.UserID,
		ContactID: contact.ID,
		Direction: model.DirectionInbound,
		Content:   in.Body,
		Phone:     phone,
		Status:    model.MessageStatusReceived,
		SentAt:    &now,
	}
	if in.MessageSID != "" {
		inbound.ProviderMessageID = &in.MessageSID
	}
	if err := s.Messages.Create(ctx, inbound); err != nil {
		s.logger().Error("failed to store inbound message", zap.String("contact_id", contact.ID.String()), zap.Error(err))
	}

	if last != nil {
		if err := s.Messages.MarkResponded(ctx, last.ID, in.Body, now); err != nil {
			s.logger().Warn("failed to link reply", zap.String("message_id", last.ID.String()), zap.Error(err))
		}
	}

	preview := in.Body
	if r := []rune(preview); len(r) > 100 {
		preview = string(r[:100])
	}
	s.append(contact, "message_received", model.AuditMessage, "Message received from "+name, model.AuditSuccess, map[string]any{
		"contact_id":      contact.ID.String(),
		"phone":           phone,
		"profile_name":    in.ProfileName,
		"message_preview": preview,
	})
	return result, nil
}

func (s *InboxService) append(c *model.Contact, action string, category model.AuditCategory, description string, status model.AuditStatus, metadata map[string]any) {
	if s.Audit == nil {
		return
	}
	tenant := c.UserID
	s.Audit.Append(model.AuditEntry{
		UserID:      &tenant,
		ActionType:  action,
		Category:    category,
		Description: description,
		Status:      status,
		Metadata:    metadata,
	})
}
