package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/unclebandit/wacampaigns-backend/internal/model"
)

type MessageRepositoryInterface interface {
	Create(ctx context.Context, msg *model.Message) error
	LastSentToContact(ctx context.Context, contactID uuid.UUID) (*model.Message, error)
	MarkResponded(ctx context.Context, id uuid.UUID, content string, at time.Time) error
}

type MessageRepository struct {
	DB *sqlx.DB
}

// Create inserts a message, outbound or inbound, and fills in its ID
func (r *MessageRepository) Create(ctx context.Context, msg *model.Message) error {
	msg.CreatedAt = time.Now()
	if msg.Provider == "" {
		msg.Provider = "twilio"
	}
	query := `
        INSERT INTO messages
        (user_id, campaign_id, contact_id, template_id, direction, content, phone, status,
         provider, provider_message_id, error_code, error_message, sent_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
        RETURNING id
    `
	err := r.DB.QueryRowContext(ctx, query,
		msg.UserID,
		msg.CampaignID,
		msg.ContactID,
		msg.TemplateID,
		msg.Direction,
		msg.Content,
		msg.Phone,
		msg.Status,
		msg.Provider,
		msg.ProviderMessageID,
		msg.ErrorCode,
		msg.ErrorMessage,
		msg.SentAt,
		msg.CreatedAt,
	).Scan(&msg.ID)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// LastSentToContact returns the most recent successfully sent message, or nil.
func (r *MessageRepository) LastSentToContact(ctx context.Context, contactID uuid.UUID) (*model.Message, error) {
	query := `
        SELECT id, user_id, campaign_id, contact_id, template_id, direction, content, phone, status,
               provider, provider_message_id, error_code, error_message, sent_at,
               has_response, response_content, response_at, created_at
        FROM messages
        WHERE contact_id=$1 AND status=$2
        ORDER BY sent_at DESC NULLS LAST
        LIMIT 1
    `
	var msg model.Message
	err := r.DB.GetContext(ctx, &msg, query, contactID, model.MessageStatusSent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last sent message: %w", err)
	}
	return &msg, nil
}

func (r *MessageRepository) MarkResponded(ctx context.Context, id uuid.UUID, content string, at time.Time) error {
	query := `UPDATE messages SET has_response=TRUE, response_content=$1, response_at=$2 WHERE id=$3`
	if _, err := r.DB.ExecContext(ctx, query, content, at, id); err != nil {
		return fmt.Errorf("failed to mark message responded: %w", err)
	}
	return nil
}

var _ MessageRepositoryInterface = (*MessageRepository)(nil)
