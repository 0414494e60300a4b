// internal/model/message.go
package model

import (
	"time"

	"github.com/google/uuid"
)

type MessageStatus string

const (
	MessageStatusSent     MessageStatus = "sent"
	MessageStatusFailed   MessageStatus = "failed"
	MessageStatusReceived MessageStatus = "received"
)

type MessageDirection string

const (
	DirectionOutbound MessageDirection = "outbound"
	DirectionInbound  MessageDirection = "inbound"
)

// Message is a single WhatsApp message, either sent by a campaign or received
// through the webhook.
type Message struct {
	ID                uuid.UUID        `db:"id" json:"id"`
	UserID            uuid.UUID        `db:"user_id" json:"user_id"`
	CampaignID        *uuid.UUID       `db:"campaign_id" json:"campaign_id,omitempty"`
	ContactID         uuid.UUID        `db:"contact_id" json:"contact_id"`
	TemplateID        *uuid.UUID       `db:"template_id" json:"template_id,omitempty"`
	Direction         MessageDirection `db:"direction" json:"direction"`
	Content           string           `db:"content" json:"content"`
	Phone             string           `db:"phone" json:"phone"`
	Status            MessageStatus    `db:"status" json:"status"` // sent, failed, received
	Provider          string           `db:"provider" json:"provider"`
	ProviderMessageID *string          `db:"provider_message_id" json:"provider_message_id,omitempty"`
	ErrorCode         *string          `db:"error_code" json:"error_code,omitempty"`
	ErrorMessage      *string          `db:"error_message" json:"error_message,omitempty"`
	SentAt            *time.Time       `db:"sent_at" json:"sent_at,omitempty"`
	HasResponse       bool             `db:"has_response" json:"has_response"`
	ResponseContent   *string          `db:"response_content" json:"response_content,omitempty"`
	ResponseAt        *time.Time       `db:"response_at" json:"response_at,omitempty"`
	CreatedAt         time.Time        `db:"created_at" json:"created_at"`
}

type DispatchOutcome string

const (
	OutcomeSent   DispatchOutcome = "sent"
	OutcomeFailed DispatchOutcome = "failed"
)

// DispatchResult is the transient per-recipient outcome of a dispatch run.
type DispatchResult struct {
	ContactID  uuid.UUID       `json:"contact_id"`
	Phone      string          `json:"phone"`
	Outcome    DispatchOutcome `json:"outcome"`
	ExternalID string          `json:"external_id,omitempty"`
	ErrorCode  string          `json:"error_code,omitempty"`
	Error      string          `json:"error,omitempty"`
}
