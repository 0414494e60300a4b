// internal/model/contact.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// Contact is a tenant's address book entry and, at dispatch time, a recipient.
type Contact struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	UserID            uuid.UUID  `db:"user_id" json:"user_id"`
	UploadID          *uuid.UUID `db:"upload_id" json:"upload_id,omitempty"`
	FullName          string     `db:"full_name" json:"full_name"`
	Phone             string     `db:"phone" json:"phone"`
	Email             *string    `db:"email" json:"email,omitempty"`
	City              *string    `db:"city" json:"city,omitempty"`
	IsActive          bool       `db:"is_active" json:"is_active"`
	IsBlocked         bool       `db:"is_blocked" json:"is_blocked"`
	LastMessageSentAt *time.Time `db:"last_message_sent_at" json:"last_message_sent_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
}

// Eligible reports whether the contact may receive campaign messages.
func (c *Contact) Eligible() bool {
	return c.IsActive && !c.IsBlocked
}
