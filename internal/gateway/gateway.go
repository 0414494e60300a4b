// internal/gateway/gateway.go
package gateway

import (
	"context"

	"github.com/google/uuid"
)

// Message is one outbound WhatsApp message.
// When ContentSID is set the gateway sends an approved content template
// with ContentVariables and Body is only kept for the record.
type Message struct {
	TenantID         uuid.UUID
	To               string
	Body             string
	ContentSID       string
	ContentVariables map[string]string
}

// Receipt is what the gateway returns for an accepted message.
type Receipt struct {
	ExternalID string
	Status     string
}

// Sender delivers a single message. Implementations must honour ctx.
type Sender interface {
	Send(ctx context.Context, msg Message) (*Receipt, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) (*Receipt, error)

func (f SenderFunc) Send(ctx context.Context, msg Message) (*Receipt, error) {
	return f(ctx, msg)
}
