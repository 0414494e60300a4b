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

type CampaignRepositoryInterface interface {
	// Campaign CRUD
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, tenantID uuid.UUID, offset, limit int, status string) ([]*model.Campaign, int, error)

	// Lifecycle
	GetStatus(ctx context.Context, id uuid.UUID) (model.CampaignStatus, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Campaign, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to model.CampaignStatus) (bool, error)
	ClaimRun(ctx context.Context, id uuid.UUID) (bool, error)
	UpdateTotals(ctx context.Context, id uuid.UUID, total int) error
	Finalize(ctx context.Context, p FinalizeParams) (bool, error)

	// Stats
	GetCampaignStats(ctx context.Context, campaignID uuid.UUID) (map[string]int, error)
}

// FinalizeParams is the single end-of-run write of a campaign's state and
// counters. The write only applies while the campaign is still in From.
type FinalizeParams struct {
	ID           uuid.UUID
	From         model.CampaignStatus
	Status       model.CampaignStatus
	Total        int
	Sent         int
	Failed       int
	Pending      int
	CompletedAt  time.Time
	ErrorMessage *string
}

type CampaignRepository struct {
	DB *sqlx.DB
}

const campaignColumns = `id, user_id, template_id, name, description, send_type, scheduled_at, target_filter,
    status, total_contacts, messages_sent, messages_failed, messages_pending,
    started_at, completed_at, error_message, created_at, updated_at`

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignStatusDraft
	}
	query := `
        INSERT INTO campaigns (user_id, template_id, name, description, send_type, scheduled_at, target_filter, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING id
    `
	err := r.DB.QueryRowContext(ctx, query,
		c.UserID, c.TemplateID, c.Name, c.Description, c.SendType, c.ScheduledAt, c.TargetFilter, c.Status, c.CreatedAt,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1 AND user_id=$2`
	var c model.Campaign
	if err := r.DB.GetContext(ctx, &c, query, id, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return &c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, tenantID uuid.UUID, offset, limit int, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	where := ` WHERE user_id=$1`
	args := []interface{}{tenantID}
	if status != "" {
		where += ` AND status=$2`
		args = append(args, status)
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	if err := r.DB.SelectContext(ctx, &campaigns, query, append(args, limit, offset)...); err != nil {
		return nil, 0, fmt.Errorf("failed to list campaigns: %w", err)
	}

	var total int
	if err := r.DB.GetContext(ctx, &total, `SELECT COUNT(*) FROM campaigns`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count campaigns: %w", err)
	}
	return campaigns, total, nil
}

// ====================== Lifecycle ======================

func (r *CampaignRepository) GetStatus(ctx context.Context, id uuid.UUID) (model.CampaignStatus, error) {
	var status model.CampaignStatus
	if err := r.DB.GetContext(ctx, &status, `SELECT status FROM campaigns WHERE id=$1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", appErrors.NewCampaignNotFound(id)
		}
		return "", fmt.Errorf("failed to get campaign status: %w", err)
	}
	return status, nil
}

// ListDue returns scheduled campaigns whose time has come, oldest first.
// It spans all tenants; callers process each campaign within its own tenant.
func (r *CampaignRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Campaign, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT ` + campaignColumns + ` FROM campaigns
        WHERE status=$1 AND scheduled_at IS NOT NULL AND scheduled_at <= $2
        ORDER BY scheduled_at ASC
        LIMIT $3`
	if err := r.DB.SelectContext(ctx, &campaigns, query, model.CampaignStatusScheduled, now, limit); err != nil {
		return nil, fmt.Errorf("failed to list due campaigns: %w", err)
	}
	return campaigns, nil
}

// TransitionStatus moves a campaign from one status to another only if it is
// still in the expected source status. It reports whether the row changed, so
// concurrent callers racing for the same campaign see exactly one winner.
func (r *CampaignRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to model.CampaignStatus) (bool, error) {
	query := `
        UPDATE campaigns
        SET status=$1,
            started_at = CASE WHEN $1 = 'sending' THEN NOW() ELSE started_at END,
            completed_at = CASE WHEN $1 IN ('cancelled', 'failed', 'completed') THEN NOW() ELSE completed_at END,
            updated_at=NOW()
        WHERE id=$2 AND status=$3
    `
	res, err := r.DB.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to update campaign status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ClaimRun marks the start of the one dispatch run a sending campaign gets.
// A redelivered job for a campaign whose run already started loses the claim.
func (r *CampaignRepository) ClaimRun(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
        UPDATE campaigns
        SET dispatched_at=NOW(), updated_at=NOW()
        WHERE id=$1 AND status='sending' AND dispatched_at IS NULL
    `
	res, err := r.DB.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim campaign run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *CampaignRepository) UpdateTotals(ctx context.Context, id uuid.UUID, total int) error {
	query := `UPDATE campaigns SET total_contacts=$1, messages_pending=$1, updated_at=NOW() WHERE id=$2`
	if _, err := r.DB.ExecContext(ctx, query, total, id); err != nil {
		return fmt.Errorf("failed to update campaign totals: %w", err)
	}
	return nil
}

// Finalize reports false when the campaign had already left p.From.
func (r *CampaignRepository) Finalize(ctx context.Context, p FinalizeParams) (bool, error) {
	query := `
        UPDATE campaigns
        SET status=$1, total_contacts=$2, messages_sent=$3, messages_failed=$4, messages_pending=$5,
            completed_at=$6, error_message=$7, updated_at=NOW()
        WHERE id=$8 AND status=$9
    `
	res, err := r.DB.ExecContext(ctx, query,
		p.Status, p.Total, p.Sent, p.Failed, p.Pending, p.CompletedAt, p.ErrorMessage, p.ID, p.From,
	)
	if err != nil {
		return false, fmt.Errorf("failed to finalize campaign: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ====================== Stats ======================

func (r *CampaignRepository) GetCampaignStats(ctx context.Context, campaignID uuid.UUID) (map[string]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	query := `SELECT status, COUNT(*) AS count FROM messages WHERE campaign_id=$1 GROUP BY status`
	if err := r.DB.SelectContext(ctx, &rows, query, campaignID); err != nil {
		return nil, fmt.Errorf("failed to get campaign stats: %w", err)
	}

	stats := map[string]int{"total": 0, "sent": 0, "failed": 0}
	for _, row := range rows {
		stats[row.Status] = row.Count
		stats["total"] += row.Count
	}
	return stats, nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
