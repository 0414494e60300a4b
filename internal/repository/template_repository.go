package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	appErrors "github.com/unclebandit/wacampaigns-backend/internal/errors"
	"github.com/unclebandit/wacampaigns-backend/internal/model"
)

type TemplateRepositoryInterface interface {
	Create(ctx context.Context, t *model.MessageTemplate) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*model.MessageTemplate, error)
	IncrementUsage(ctx context.Context, id uuid.UUID) error
}

type TemplateRepository struct {
	DB *sqlx.DB
}

func (r *TemplateRepository) Create(ctx context.Context, t *model.MessageTemplate) error {
	t.CreatedAt = time.Now()
	t.IsActive = true
	query := `
        INSERT INTO message_templates (user_id, name, content, variables, description, whatsapp_template_id, is_active, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id
    `
	err := r.DB.QueryRowContext(ctx, query,
		t.UserID, t.Name, t.Content, t.Variables, t.Description, t.WhatsAppTemplateID, t.IsActive, t.CreatedAt,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

// GetByID returns ErrTemplateMissing when the template does not exist for the tenant.
func (r *TemplateRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*model.MessageTemplate, error) {
	query := `
        SELECT id, user_id, name, content, variables, description, whatsapp_template_id, is_active, usage_count, created_at
        FROM message_templates
        WHERE id=$1 AND user_id=$2
    `
	var t model.MessageTemplate
	if err := r.DB.GetContext(ctx, &t, query, id, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrTemplateMissing
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return &t, nil
}

func (r *TemplateRepository) IncrementUsage(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE message_templates SET usage_count = usage_count + 1, updated_at=NOW() WHERE id=$1`
	if _, err := r.DB.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to increment template usage: %w", err)
	}
	return nil
}

var _ TemplateRepositoryInterface = (*TemplateRepository)(nil)
