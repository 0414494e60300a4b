// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrCampaignNotFound is returned when a campaign does not exist for the tenant.
type ErrCampaignNotFound struct {
	CampaignID uuid.UUID
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %s not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id uuid.UUID) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

var (
	// ErrEmptySelection means the audience resolved to zero eligible recipients.
	ErrEmptySelection = errors.New("no eligible recipients selected")

	// ErrTemplateMissing means the campaign's template cannot be loaded.
	ErrTemplateMissing = errors.New("campaign template not found")

	// ErrInvalidInput wraps request validation failures.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRunClaimed means a dispatch run for the campaign has already started.
	ErrRunClaimed = errors.New("campaign dispatch run already claimed")

	ErrInvalidTransition    = errors.New("invalid campaign status transition")
	ErrInvalidTarget        = errors.New("invalid target filter")
	ErrContactNotFound      = errors.New("contact not found")
	ErrGatewayNotConfigured = errors.New("whatsapp gateway is not configured")
)

// SendError is a failure reported by the messaging gateway for one recipient.
type SendError struct {
	Code    string
	Message string
}

func (e *SendError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("send failed: %s", e.Message)
	}
	return fmt.Sprintf("send failed (%s): %s", e.Code, e.Message)
}

// NewSendError builds a SendError, accepting any stringer-like code.
func NewSendError(code any, message string) error {
	c := ""
	if code != nil {
		c = fmt.Sprint(code)
	}
	return &SendError{Code: c, Message: message}
}

// PersistenceError wraps a failed write of campaign state.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func NewPersistenceError(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}
