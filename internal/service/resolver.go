// internal/service/resolver.go
package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/wacampaigns-backend/internal/errors"
	"github.com/unclebandit/wacampaigns-backend/internal/model"
	"github.com/unclebandit/wacampaigns-backend/internal/repository"
)

// Resolver turns a campaign's target filter into the ordered recipient list.
// Every lookup is scoped to one tenant.
type Resolver struct {
	Contacts repository.ContactRepositoryInterface
}

// Resolve returns eligible recipients for the filter. A nil filter targets
// every contact. The result is never empty: an empty audience is ErrEmptySelection.
func (r *Resolver) Resolve(ctx context.Context, tenantID uuid.UUID, filter *model.TargetFilter) ([]model.Contact, error) {
	mode := model.TargetAll
	if filter != nil {
		mode = filter.Mode
	}

	var (
		contacts []model.Contact
		err      error
	)
	switch mode {
	case model.TargetAll:
		contacts, err = r.Contacts.ListEligible(ctx, tenantID)

	case model.TargetPackage:
		ids := uniqueIDs(filter.PackageIDs)
		if len(ids) == 0 {
			return nil, appErrors.ErrEmptySelection
		}
		contacts, err = r.Contacts.ListEligibleByUploads(ctx, tenantID, ids)

	case model.TargetSelected:
		ids := uniqueIDs(filter.ContactIDs)
		if len(ids) == 0 {
			return nil, appErrors.ErrEmptySelection
		}
		contacts, err = r.Contacts.ListByIDs(ctx, tenantID, ids)
		if err == nil {
			contacts = inIDOrder(contacts, ids)
		}

	default:
		return nil, fmt.Errorf("%w: mode %q", appErrors.ErrInvalidTarget, mode)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipients: %w", err)
	}

	recipients := eligibleOnce(contacts, tenantID)
	if len(recipients) == 0 {
		return nil, appErrors.ErrEmptySelection
	}
	return recipients, nil
}

// eligibleOnce drops blocked, inactive, foreign and repeated contacts, keeping order.
func eligibleOnce(contacts []model.Contact, tenantID uuid.UUID) []model.Contact {
	out := make([]model.Contact, 0, len(contacts))
	seen := make(map[uuid.UUID]bool, len(contacts))
	for _, c := range contacts {
		if !c.Eligible() || c.UserID != tenantID || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}

// inIDOrder reorders contacts to follow ids; ids with no contact are skipped.
func inIDOrder(contacts []model.Contact, ids []uuid.UUID) []model.Contact {
	byID := make(map[uuid.UUID]model.Contact, len(contacts))
	for _, c := range contacts {
		byID[c.ID] = c
	}
	out := make([]model.Contact, 0, len(contacts))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
