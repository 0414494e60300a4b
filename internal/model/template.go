// internal/model/template.go
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type MessageTemplate struct {
	ID                 uuid.UUID      `db:"id" json:"id"`
	UserID             uuid.UUID      `db:"user_id" json:"user_id"`
	Name               string         `db:"name" json:"name"`
	Content            string         `db:"content" json:"content"`
	Variables          pq.StringArray `db:"variables" json:"variables"`
	Description        *string        `db:"description" json:"description,omitempty"`
	WhatsAppTemplateID *string        `db:"whatsapp_template_id" json:"whatsapp_template_id,omitempty"`
	IsActive           bool           `db:"is_active" json:"is_active"`
	UsageCount         int            `db:"usage_count" json:"usage_count"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
}
