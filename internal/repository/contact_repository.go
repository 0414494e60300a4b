package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	appErrors "github.com/unclebandit/wacampaigns-backend/internal/errors"
	"github.com/unclebandit/wacampaigns-backend/internal/model"
)

// ContactRepositoryInterface defines methods used by the resolver and the inbox
type ContactRepositoryInterface interface {
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*model.Contact, error)
	ListEligible(ctx context.Context, tenantID uuid.UUID) ([]model.Contact, error)
	ListEligibleByUploads(ctx context.Context, tenantID uuid.UUID, uploadIDs []uuid.UUID) ([]model.Contact, error)
	ListByIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]model.Contact, error)
	FindByPhone(ctx context.Context, tenantID uuid.UUID, phone string) (*model.Contact, error)
	Block(ctx context.Context, id uuid.UUID) error
	TouchLastMessageSent(ctx context.Context, id uuid.UUID, at time.Time) error
}

// ContactRepository is the concrete implementation
type ContactRepository struct {
	DB *sqlx.DB
}

const contactColumns = `id, user_id, upload_id, full_name, phone, email, city, is_active, is_blocked, last_message_sent_at, created_at`

// GetByID fetches a contact by ID within the tenant
func (r *ContactRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*model.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE id=$1 AND user_id=$2`
	var c model.Contact
	if err := r.DB.GetContext(ctx, &c, query, id, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrContactNotFound
		}
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return &c, nil
}

// ListEligible fetches every active, unblocked contact of the tenant
func (r *ContactRepository) ListEligible(ctx context.Context, tenantID uuid.UUID) ([]model.Contact, error) {
	contacts := []model.Contact{}
	query := `SELECT ` + contactColumns + ` FROM contacts
        WHERE user_id=$1 AND is_active AND NOT is_blocked
        ORDER BY full_name, id`
	if err := r.DB.SelectContext(ctx, &contacts, query, tenantID); err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	return contacts, nil
}

// ListEligibleByUploads fetches eligible contacts imported by any of the given uploads
func (r *ContactRepository) ListEligibleByUploads(ctx context.Context, tenantID uuid.UUID, uploadIDs []uuid.UUID) ([]model.Contact, error) {
	contacts := []model.Contact{}
	if len(uploadIDs) == 0 {
		return contacts, nil
	}
	query := `SELECT ` + contactColumns + ` FROM contacts
        WHERE user_id=$1 AND upload_id = ANY($2::uuid[]) AND is_active AND NOT is_blocked
        ORDER BY full_name, id`
	if err := r.DB.SelectContext(ctx, &contacts, query, tenantID, pq.Array(uuidStrings(uploadIDs))); err != nil {
		return nil, fmt.Errorf("failed to list contacts by upload: %w", err)
	}
	return contacts, nil
}

// ListByIDs fetches the tenant's contacts among ids, regardless of eligibility
func (r *ContactRepository) ListByIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]model.Contact, error) {
	contacts := []model.Contact{}
	if len(ids) == 0 {
		return contacts, nil
	}
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE user_id=$1 AND id = ANY($2::uuid[])`
	if err := r.DB.SelectContext(ctx, &contacts, query, tenantID, pq.Array(uuidStrings(ids))); err != nil {
		return nil, fmt.Errorf("failed to list contacts by id: %w", err)
	}
	return contacts, nil
}

// FindByPhone looks a sender up among the tenant's contacts by exact phone,
// falling back to a match on the last ten digits. Returns nil, nil when
// nobody matches.
func (r *ContactRepository) FindByPhone(ctx context.Context, tenantID uuid.UUID, phone string) (*model.Contact, error) {
	var c model.Contact
	err := r.DB.GetContext(ctx, &c, `SELECT `+contactColumns+` FROM contacts WHERE user_id=$1 AND phone=$2 LIMIT 1`, tenantID, phone)
	if err == nil {
		return &c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to find contact: %w", err)
	}

	suffix := lastDigits(phone, 10)
	if suffix == "" {
		return nil, nil
	}
	err = r.DB.GetContext(ctx, &c, `SELECT `+contactColumns+` FROM contacts WHERE user_id=$1 AND phone LIKE '%' || $2 LIMIT 1`, tenantID, suffix)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find contact: %w", err)
	}
	return &c, nil
}

func (r *ContactRepository) Block(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE contacts SET is_blocked=TRUE, updated_at=NOW() WHERE id=$1`
	if _, err := r.DB.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to block contact: %w", err)
	}
	return nil
}

func (r *ContactRepository) TouchLastMessageSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE contacts SET last_message_sent_at=$1 WHERE id=$2`
	if _, err := r.DB.ExecContext(ctx, query, at, id); err != nil {
		return fmt.Errorf("failed to update contact: %w", err)
	}
	return nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// lastDigits keeps the trailing n digits of phone, ignoring any formatting.
func lastDigits(phone string, n int) string {
	digits := make([]byte, 0, len(phone))
	for i := 0; i < len(phone); i++ {
		if phone[i] >= '0' && phone[i] <= '9' {
			digits = append(digits, phone[i])
		}
	}
	if len(digits) > n {
		digits = digits[len(digits)-n:]
	}
	return string(digits)
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
