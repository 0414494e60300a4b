package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	appErrors "github.com/unclebandit/wacampaigns-backend/internal/errors"
	"github.com/unclebandit/wacampaigns-backend/internal/model"
)

type WhatsAppConfigRepositoryInterface interface {
	GetByTenant(ctx context.Context, tenantID uuid.UUID) (*model.WhatsAppConfig, error)
	GetByPhoneNumber(ctx context.Context, phone string) (*model.WhatsAppConfig, error)
	IncrementSentToday(ctx context.Context, tenantID uuid.UUID) error
	MarkVerified(ctx context.Context, tenantID uuid.UUID) error
}

type WhatsAppConfigRepository struct {
	DB *sqlx.DB
}

// GetByTenant returns ErrGatewayNotConfigured when the tenant has no config row.
func (r *WhatsAppConfigRepository) GetByTenant(ctx context.Context, tenantID uuid.UUID) (*model.WhatsAppConfig, error) {
	query := `
        SELECT id, user_id, provider, account_sid, auth_token, phone_number_id, is_active, is_verified,
               verified_at, daily_message_limit, messages_sent_today
        FROM whatsapp_config
        WHERE user_id=$1
    `
	var cfg model.WhatsAppConfig
	if err := r.DB.GetContext(ctx, &cfg, query, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrGatewayNotConfigured
		}
		return nil, fmt.Errorf("failed to get whatsapp config: %w", err)
	}
	return &cfg, nil
}

// GetByPhoneNumber finds the tenant that owns a sender number, stored with or
// without the whatsapp: prefix. Returns ErrGatewayNotConfigured when no
// tenant owns it.
func (r *WhatsAppConfigRepository) GetByPhoneNumber(ctx context.Context, phone string) (*model.WhatsAppConfig, error) {
	query := `
        SELECT id, user_id, provider, account_sid, auth_token, phone_number_id, is_active, is_verified,
               verified_at, daily_message_limit, messages_sent_today
        FROM whatsapp_config
        WHERE phone_number_id IN ($1, 'whatsapp:' || $1)
        ORDER BY is_active DESC
        LIMIT 1
    `
	var cfg model.WhatsAppConfig
	if err := r.DB.GetContext(ctx, &cfg, query, phone); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrGatewayNotConfigured
		}
		return nil, fmt.Errorf("failed to get whatsapp config by number: %w", err)
	}
	return &cfg, nil
}

func (r *WhatsAppConfigRepository) IncrementSentToday(ctx context.Context, tenantID uuid.UUID) error {
	query := `UPDATE whatsapp_config SET messages_sent_today = messages_sent_today + 1 WHERE user_id=$1`
	if _, err := r.DB.ExecContext(ctx, query, tenantID); err != nil {
		return fmt.Errorf("failed to increment sent counter: %w", err)
	}
	return nil
}

func (r *WhatsAppConfigRepository) MarkVerified(ctx context.Context, tenantID uuid.UUID) error {
	query := `UPDATE whatsapp_config SET is_verified=TRUE, verified_at=NOW(), is_active=TRUE WHERE user_id=$1`
	if _, err := r.DB.ExecContext(ctx, query, tenantID); err != nil {
		return fmt.Errorf("failed to mark whatsapp config verified: %w", err)
	}
	return nil
}

var _ WhatsAppConfigRepositoryInterface = (*WhatsAppConfigRepository)(nil)
