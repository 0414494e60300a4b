// internal/gateway/twilio.go
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/wacampaigns-backend/internal/errors"
	"github.com/unclebandit/wacampaigns-backend/internal/repository"
)

const whatsappPrefix = "whatsapp:"

// MessagingAPI is the slice of the Twilio REST API the gateway uses.
// *openapi.ApiService satisfies it.
type MessagingAPI interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
	FetchAccount(sid string) (*openapi.ApiV2010Account, error)
}

// ClientFactory builds an API client for one set of account credentials.
type ClientFactory func(accountSID, authToken string) MessagingAPI

func NewTwilioClient(accountSID, authToken string) MessagingAPI {
	return twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	}).Api
}

// TwilioSender sends WhatsApp messages with each tenant's own Twilio credentials.
type TwilioSender struct {
	Configs        repository.WhatsAppConfigRepositoryInterface
	NewClient      ClientFactory
	StatusCallback string
	Logger         *zap.Logger

	mu      sync.Mutex
	clients map[string]MessagingAPI
}

func NewTwilioSender(configs repository.WhatsAppConfigRepositoryInterface, statusCallback string, logger *zap.Logger) *TwilioSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TwilioSender{
		Configs:        configs,
		NewClient:      NewTwilioClient,
		StatusCallback: statusCallback,
		Logger:         logger,
	}
}

func (s *TwilioSender) client(accountSID, authToken string) MessagingAPI {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients == nil {
		s.clients = make(map[string]MessagingAPI)
	}
	key := accountSID + ":" + authToken
	if c, ok := s.clients[key]; ok {
		return c
	}
	c := s.NewClient(accountSID, authToken)
	s.clients[key] = c
	return c
}

func (s *TwilioSender) Send(ctx context.Context, msg Message) (*Receipt, error) {
	cfg, err := s.Configs.GetByTenant(ctx, msg.TenantID)
	if err != nil {
		return nil, err
	}
	if !cfg.HasCredentials() {
		return nil, appErrors.ErrGatewayNotConfigured
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(WhatsAppAddress(msg.To))
	params.SetFrom(WhatsAppAddress(*cfg.PhoneNumberID))
	if msg.ContentSID != "" {
		vars, err := json.Marshal(msg.ContentVariables)
		if err != nil {
			return nil, fmt.Errorf("failed to encode content variables: %w", err)
		}
		params.SetContentSid(msg.ContentSID)
		params.SetContentVariables(string(vars))
	} else {
		params.SetBody(msg.Body)
	}
	if s.StatusCallback != "" {
		params.SetStatusCallback(s.StatusCallback)
	}

	api := s.client(*cfg.AccountSID, *cfg.AuthToken)

	// the REST client has no context support, so the call is raced against ctx
	type result struct {
		resp *openapi.ApiV2010Message
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := api.CreateMessage(params)
		ch <- result{resp, err}
	}()

	var r result
	select {
	case r = <-ch:
	case <-ctx.Done():
		return nil, appErrors.NewSendError("timeout", ctx.Err().Error())
	}
	if r.err != nil {
		return nil, translateError(r.err)
	}

	receipt := &Receipt{}
	if r.resp != nil {
		if r.resp.Sid != nil {
			receipt.ExternalID = *r.resp.Sid
		}
		if r.resp.Status != nil {
			receipt.Status = *r.resp.Status
		}
	}

	if err := s.Configs.IncrementSentToday(ctx, msg.TenantID); err != nil {
		s.Logger.Warn("failed to bump daily counter", zap.String("tenant_id", msg.TenantID.String()), zap.Error(err))
	}
	return receipt, nil
}

// AccountInfo is the result of a credentials check.
type AccountInfo struct {
	FriendlyName string `json:"friendly_name"`
	Status       string `json:"status"`
	Verified     bool   `json:"verified"`
}

// Verify fetches the tenant's Twilio account and marks the config verified
// when the account is active.
func (s *TwilioSender) Verify(ctx context.Context, tenantID uuid.UUID) (*AccountInfo, error) {
	cfg, err := s.Configs.GetByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !cfg.HasCredentials() {
		return nil, appErrors.ErrGatewayNotConfigured
	}

	account, err := s.client(*cfg.AccountSID, *cfg.AuthToken).FetchAccount(*cfg.AccountSID)
	if err != nil {
		return nil, translateError(err)
	}

	info := &AccountInfo{}
	if account.FriendlyName != nil {
		info.FriendlyName = *account.FriendlyName
	}
	if account.Status != nil {
		info.Status = *account.Status
	}
	if info.Status == "active" {
		if err := s.Configs.MarkVerified(ctx, tenantID); err != nil {
			return nil, err
		}
		info.Verified = true
	}
	return info, nil
}

// WhatsAppAddress prefixes a phone number with the whatsapp: channel.
func WhatsAppAddress(phone string) string {
	phone = strings.TrimSpace(phone)
	if strings.HasPrefix(phone, whatsappPrefix) {
		return phone
	}
	return whatsappPrefix + phone
}

// StripWhatsAppPrefix is the inverse of WhatsAppAddress.
func StripWhatsAppPrefix(addr string) string {
	return strings.TrimPrefix(strings.TrimSpace(addr), whatsappPrefix)
}

func translateError(err error) error {
	var restErr *client.TwilioRestError
	if errors.As(err, &restErr) {
		return appErrors.NewSendError(restErr.Code, restErr.Message)
	}
	return appErrors.NewSendError(nil, err.Error())
}

var _ Sender = (*TwilioSender)(nil)
