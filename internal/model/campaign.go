// internal/model/campaign.go
package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusSending   CampaignStatus = "sending"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
	CampaignStatusFailed    CampaignStatus = "failed"
)

type SendType string

const (
	SendTypeImmediate SendType = "immediate"
	SendTypeScheduled SendType = "scheduled"
	SendTypeManual    SendType = "manual"
)

var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignStatusDraft:     {CampaignStatusSending, CampaignStatusScheduled, CampaignStatusFailed},
	CampaignStatusScheduled: {CampaignStatusSending, CampaignStatusCancelled, CampaignStatusFailed},
	CampaignStatusSending:   {CampaignStatusCompleted, CampaignStatusFailed, CampaignStatusCancelled},
}

// CanTransition reports whether a campaign may move from s to next.
// completed, cancelled and failed are terminal.
func (s CampaignStatus) CanTransition(next CampaignStatus) bool {
	for _, allowed := range campaignTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignStatusCompleted || s == CampaignStatusCancelled || s == CampaignStatusFailed
}

func (t SendType) Valid() bool {
	return t == SendTypeImmediate || t == SendTypeScheduled || t == SendTypeManual
}

// InitialStatus is the status a freshly created campaign starts in.
// Immediate campaigns start as draft and move to sending once Send runs.
func (t SendType) InitialStatus() CampaignStatus {
	if t == SendTypeScheduled {
		return CampaignStatusScheduled
	}
	return CampaignStatusDraft
}

type Campaign struct {
	ID              uuid.UUID      `db:"id" json:"id"`
	UserID          uuid.UUID      `db:"user_id" json:"user_id"`
	TemplateID      *uuid.UUID     `db:"template_id" json:"template_id,omitempty"`
	Name            string         `db:"name" json:"name"`
	Description     *string        `db:"description" json:"description,omitempty"`
	SendType        SendType       `db:"send_type" json:"send_type"`
	ScheduledAt     *time.Time     `db:"scheduled_at" json:"scheduled_at,omitempty"`
	TargetFilter    *TargetFilter  `db:"target_filter" json:"target_filter,omitempty"`
	Status          CampaignStatus `db:"status" json:"status"`
	TotalContacts   int            `db:"total_contacts" json:"total_contacts"`
	MessagesSent    int            `db:"messages_sent" json:"messages_sent"`
	MessagesFailed  int            `db:"messages_failed" json:"messages_failed"`
	MessagesPending int            `db:"messages_pending" json:"messages_pending"`
	StartedAt       *time.Time     `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	ErrorMessage    *string        `db:"error_message" json:"error_message,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       *time.Time     `db:"updated_at" json:"updated_at,omitempty"`
}

// Validate checks the fields a user supplies when creating a campaign.
func (c *Campaign) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("campaign name is required")
	}
	if !c.SendType.Valid() {
		return fmt.Errorf("invalid send_type %q", c.SendType)
	}
	if c.SendType == SendTypeScheduled && c.ScheduledAt == nil {
		return fmt.Errorf("scheduled_at is required for scheduled campaigns")
	}
	if c.TargetFilter != nil {
		return c.TargetFilter.Validate()
	}
	return nil
}

// IsDue reports whether the scheduler may pick the campaign up at now.
func (c *Campaign) IsDue(now time.Time) bool {
	return c.Status == CampaignStatusScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now)
}

type TargetMode string

const (
	TargetAll      TargetMode = "all"
	TargetPackage  TargetMode = "package"
	TargetSelected TargetMode = "selected"
)

// TargetFilter is the audience definition stored with a campaign.
// PackageIDs are contact import batches (contacts.upload_id).
type TargetFilter struct {
	Mode       TargetMode  `json:"mode"`
	PackageIDs []uuid.UUID `json:"package_ids,omitempty"`
	ContactIDs []uuid.UUID `json:"contact_ids,omitempty"`
}

func (f *TargetFilter) Validate() error {
	switch f.Mode {
	case TargetAll, TargetPackage, TargetSelected:
		return nil
	}
	return fmt.Errorf("invalid target mode %q", f.Mode)
}

// Value stores the filter as JSONB.
func (f *TargetFilter) Value() (driver.Value, error) {
	if f == nil {
		return nil, nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (f *TargetFilter) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, f)
	case string:
		return json.Unmarshal([]byte(v), f)
	}
	return errors.New("target_filter: unsupported column type")
}
