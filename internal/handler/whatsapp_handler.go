// internal/handler/whatsapp_handler.go
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/twilio/twilio-go/twiml"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/wacampaigns-backend/internal/errors"
	"github.com/unclebandit/wacampaigns-backend/internal/gateway"
	"github.com/unclebandit/wacampaigns-backend/internal/service"
)

// Inbox stores replies delivered by the webhook.
type Inbox interface {
	Receive(ctx context.Context, in service.InboundMessage) (*service.InboxResult, error)
}

// AccountVerifier checks a tenant's gateway credentials.
type AccountVerifier interface {
	Verify(ctx context.Context, tenantID uuid.UUID) (*gateway.AccountInfo, error)
}

// WhatsAppHandler serves the Twilio webhook and the connection test.
type WhatsAppHandler struct {
	Inbox    Inbox
	Verifier AccountVerifier
	Logger   *zap.Logger
}

func NewWhatsAppHandler(inbox Inbox, verifier AccountVerifier, logger *zap.Logger) *WhatsAppHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WhatsAppHandler{Inbox: inbox, Verifier: verifier, Logger: logger}
}

func (h *WhatsAppHandler) Routes(r chi.Router) {
	r.Post("/whatsapp/receive", h.ReceiveHandler)
	r.Get("/whatsapp/receive", h.StatusHandler)
	r.Post("/whatsapp/test", h.TestConnectionHandler)
}

// ReceiveHandler accepts Twilio's form-encoded inbound message callback and
// answers with an empty TwiML response.
func (h *WhatsAppHandler) ReceiveHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}

	in := service.InboundMessage{
		From:        r.PostForm.Get("From"),
		To:          r.PostForm.Get("To"),
		Body:        r.PostForm.Get("Body"),
		MessageSID:  r.PostForm.Get("MessageSid"),
		ProfileName: r.PostForm.Get("ProfileName"),
	}
	if in.From == "" || in.To == "" || in.Body == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}

	result, err := h.Inbox.Receive(r.Context(), in)
	if err != nil {
		if errors.Is(err, appErrors.ErrInvalidInput) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.Logger.Error("failed to process inbound message", zap.String("message_sid", in.MessageSID), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if result.OptedOut {
		h.Logger.Info("contact opted out", zap.String("contact_id", result.ContactID.String()))
	}

	response, err := twiml.Messages([]twiml.Element{})
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(response))
}

// StatusHandler lets Twilio's console check the webhook URL.
func (h *WhatsAppHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "active",
		"message": "WhatsApp webhook endpoint is ready",
	})
}

// TestConnectionHandler verifies the caller's stored Twilio credentials.
func (h *WhatsAppHandler) TestConnectionHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(r.Header.Get("X-User-ID"))
	if err != nil {
		http.Error(w, "missing or invalid X-User-ID", http.StatusUnauthorized)
		return
	}

	info, err := h.Verifier.Verify(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, appErrors.ErrGatewayNotConfigured) {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": err.Error()})
			return
		}
		h.Logger.Warn("twilio connection test failed", zap.String("tenant_id", tenantID.String()), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": info.Verified,
		"account": info,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
