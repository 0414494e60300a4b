// internal/model/audit.go
package model

import (
	"time"

	"github.com/google/uuid"
)

type AuditCategory string

const (
	AuditAuth     AuditCategory = "auth"
	AuditUpload   AuditCategory = "upload"
	AuditContact  AuditCategory = "contact"
	AuditCampaign AuditCategory = "campaign"
	AuditMessage  AuditCategory = "message"
	AuditSystem   AuditCategory = "system"
)

type AuditStatus string

const (
	AuditSuccess AuditStatus = "success"
	AuditWarning AuditStatus = "warning"
	AuditError   AuditStatus = "error"
)

// AuditEntry is a row of system_logs.
type AuditEntry struct {
	ID           uuid.UUID      `db:"id" json:"id"`
	UserID       *uuid.UUID     `db:"user_id" json:"user_id,omitempty"`
	ActionType   string         `db:"action_type" json:"action_type"`
	Category     AuditCategory  `db:"action_category" json:"action_category"`
	Description  string         `db:"description" json:"description"`
	Status       AuditStatus    `db:"status" json:"status"`
	ErrorDetails *string        `db:"error_details" json:"error_details,omitempty"`
	Metadata     map[string]any `db:"-" json:"metadata,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}
