// internal/model/whatsapp_config.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// WhatsAppConfig holds a tenant's Twilio credentials and sender number.
type WhatsAppConfig struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	UserID            uuid.UUID  `db:"user_id" json:"user_id"`
	Provider          string     `db:"provider" json:"provider"`
	AccountSID        *string    `db:"account_sid" json:"account_sid,omitempty"`
	AuthToken         *string    `db:"auth_token" json:"-"`
	PhoneNumberID     *string    `db:"phone_number_id" json:"phone_number_id,omitempty"`
	IsActive          bool       `db:"is_active" json:"is_active"`
	IsVerified        bool       `db:"is_verified" json:"is_verified"`
	VerifiedAt        *time.Time `db:"verified_at" json:"verified_at,omitempty"`
	DailyMessageLimit int        `db:"daily_message_limit" json:"daily_message_limit"`
	MessagesSentToday int        `db:"messages_sent_today" json:"messages_sent_today"`
}

// HasCredentials reports whether the Twilio credentials are complete.
func (c *WhatsAppConfig) HasCredentials() bool {
	return c.AccountSID != nil && *c.AccountSID != "" &&
		c.AuthToken != nil && *c.AuthToken != "" &&
		c.PhoneNumberID != nil && *c.PhoneNumberID != ""
}
