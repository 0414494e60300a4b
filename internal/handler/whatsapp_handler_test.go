package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/wacampaigns-backend/internal/errors"
	"github.com/unclebandit/wacampaigns-backend/internal/gateway"
	"github.com/unclebandit/wacampaigns-backend/internal/handler"
	"github.com/unclebandit/wacampaigns-backend/internal/service"
)

type stubInbox struct {
	got    []service.InboundMessage
	result *service.InboxResult
	err    error
}

func (s *stubInbox) Receive(ctx context.Context, in service.InboundMessage) (*service.InboxResult, error) {
	s.got = append(s.got, in)
	if s.err != nil {
		return nil, s.err
	}
	if s.result == nil {
		return &service.InboxResult{}, nil
	}
	return s.result, nil
}

type stubVerifier struct {
	info *gateway.AccountInfo
	err  error
}

func (s *stubVerifier) Verify(ctx context.Context, tenantID uuid.UUID) (*gateway.AccountInfo, error) {
	return s.info, s.err
}

func router(inbox handler.Inbox, verifier handler.AccountVerifier) chi.Router {
	r := chi.NewRouter()
	handler.NewWhatsAppHandler(inbox, verifier, nil).Routes(r)
	return r
}

func postForm(r http.Handler, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/whatsapp/receive", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestReceiveRepliesWithEmptyTwiML(t *testing.T) {
	inbox := &stubInbox{}
	w := postForm(router(inbox, nil), url.Values{
		"From":        {"whatsapp:+5491100000000"},
		"To":          {"whatsapp:+14155238886"},
		"Body":        {"hola"},
		"MessageSid":  {"SM123"},
		"ProfileName": {"Ana"},
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/xml", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "<Response")
	require.Len(t, inbox.got, 1)
	assert.Equal(t, service.InboundMessage{From: "whatsapp:+5491100000000", To: "whatsapp:+14155238886", Body: "hola", MessageSID: "SM123", ProfileName: "Ana"}, inbox.got[0])
}

func TestReceiveRejectsIncompleteForm(t *testing.T) {
	inbox := &stubInbox{}
	w := postForm(router(inbox, nil), url.Values{"From": {"whatsapp:+1"}, "To": {"whatsapp:+2"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = postForm(router(inbox, nil), url.Values{"From": {"whatsapp:+1"}, "Body": {"hola"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, inbox.got)
}

func TestReceiveStoreFailure(t *testing.T) {
	w := postForm(router(&stubInbox{err: errors.New("db down")}, nil), url.Values{"From": {"+1"}, "To": {"+2"}, "Body": {"hi"}})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestReceiveOptOut(t *testing.T) {
	id := uuid.New()
	w := postForm(router(&stubInbox{result: &service.InboxResult{ContactID: &id, OptedOut: true}}, nil), url.Values{"From": {"+1"}, "To": {"+2"}, "Body": {"STOP"}})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookStatus(t *testing.T) {
	w := httptest.NewRecorder()
	router(&stubInbox{}, nil).ServeHTTP(w, httptest.NewRequest("GET", "/whatsapp/receive", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var res map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.Equal(t, "active", res["status"])
}

func TestConnectionTest(t *testing.T) {
	cases := []struct {
		name     string
		verifier *stubVerifier
		want     int
	}{
		{"verified", &stubVerifier{info: &gateway.AccountInfo{FriendlyName: "Acme", Status: "active", Verified: true}}, http.StatusOK},
		{"not configured", &stubVerifier{err: appErrors.ErrGatewayNotConfigured}, http.StatusBadRequest},
		{"rejected", &stubVerifier{err: appErrors.NewSendError(20003, "Authenticate")}, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/whatsapp/test", nil)
			req.Header.Set("X-User-ID", uuid.NewString())
			w := httptest.NewRecorder()
			router(&stubInbox{}, tc.verifier).ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}

	w := httptest.NewRecorder()
	router(&stubInbox{}, &stubVerifier{}).ServeHTTP(w, httptest.NewRequest("POST", "/whatsapp/test", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
