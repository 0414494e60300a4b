package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/unclebandit/wacampaigns-backend/internal/model"
)

type AuditRepositoryInterface interface {
	Insert(ctx context.Context, e *model.AuditEntry) error
}

type AuditRepository struct {
	DB *sqlx.DB
}

func (r *AuditRepository) Insert(ctx context.Context, e *model.AuditEntry) error {
	var metadata any
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode audit metadata: %w", err)
		}
		metadata = string(b)
	}
	query := `
        INSERT INTO system_logs (user_id, action_type, action_category, description, metadata, status, error_details, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `
	_, err := r.DB.ExecContext(ctx, query,
		e.UserID, e.ActionType, e.Category, e.Description, metadata, e.Status, e.ErrorDetails, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

var _ AuditRepositoryInterface = (*AuditRepository)(nil)
