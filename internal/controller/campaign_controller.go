// internal/controller/campaign_controller.go
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/wacampaigns-backend/internal/errors"
	"github.com/unclebandit/wacampaigns-backend/internal/service"
)

// TenantHeader carries the authenticated user's id, set by the gateway in
// front of this service.
const TenantHeader = "X-User-ID"

type CampaignController struct {
	CampaignService *service.CampaignService
	TemplateService *service.TemplateService
	Scheduler       *service.Scheduler
	Logger          *zap.Logger
}

// Routes mounts the campaign and template endpoints on r.
func (c *CampaignController) Routes(r chi.Router) {
	r.Post("/campaigns", c.CreateCampaign)
	r.Get("/campaigns", c.ListCampaigns)
	r.Get("/campaigns/scheduler", c.TriggerScheduler)
	r.Get("/campaigns/{id}", c.GetCampaignDetails)
	r.Post("/campaigns/{id}/send", c.SendCampaign)
	r.Post("/campaigns/{id}/cancel", c.CancelCampaign)
	r.Post("/campaigns/{id}/personalized-preview", c.PersonalizedPreview)
	r.Post("/templates", c.CreateTemplate)
}

func (c *CampaignController) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	tenantID, campaignID, ok := c.tenantAndCampaign(w, r)
	if !ok {
		return
	}

	var body struct {
		ContactID        uuid.UUID `json:"contact_id"`
		OverrideTemplate *string   `json:"override_template"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	rendered, err := c.CampaignService.RenderPreview(r.Context(), tenantID, campaignID, body.ContactID, body.OverrideTemplate)
	if err != nil {
		c.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rendered_message": rendered,
		"used_template":    body.OverrideTemplate,
		"contact_id":       body.ContactID,
	})
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := c.tenant(w, r)
	if !ok {
		return
	}

	var body service.CreateCampaignInput
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	campaign, err := c.CampaignService.CreateCampaign(r.Context(), tenantID, body)
	if err != nil {
		if campaign != nil {
			// stored, but the immediate send did not go out
			writeJSON(w, statusFor(err), map[string]interface{}{
				"campaign": campaign,
				"error":    err.Error(),
			})
			return
		}
		c.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := c.tenant(w, r)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), tenantID, page, pageSize, status)
	if err != nil {
		c.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination,
	})
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	tenantID, campaignID, ok := c.tenantAndCampaign(w, r)
	if !ok {
		return
	}

	details, err := c.CampaignService.GetCampaignDetailsWithStats(r.Context(), tenantID, campaignID)
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (c *CampaignController) SendCampaign(w http.ResponseWriter, r *http.Request) {
	tenantID, campaignID, ok := c.tenantAndCampaign(w, r)
	if !ok {
		return
	}

	result, err := c.CampaignService.SendCampaign(r.Context(), tenantID, campaignID)
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

func (c *CampaignController) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	tenantID, campaignID, ok := c.tenantAndCampaign(w, r)
	if !ok {
		return
	}

	campaign, err := c.CampaignService.CancelCampaign(r.Context(), tenantID, campaignID)
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := c.tenant(w, r)
	if !ok {
		return
	}

	var body service.CreateTemplateInput
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	tmpl, err := c.TemplateService.CreateTemplate(r.Context(), tenantID, body)
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tmpl)
}

// TriggerScheduler runs one scheduler pass. It is the hook for an external
// cron; the run outlives the request if the caller hangs up.
func (c *CampaignController) TriggerScheduler(w http.ResponseWriter, r *http.Request) {
	if c.Scheduler == nil {
		http.Error(w, "scheduler disabled", http.StatusServiceUnavailable)
		return
	}

	summary, err := c.Scheduler.Trigger(context.WithoutCancel(r.Context()), time.Now())
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"processedCount": summary.ProcessedCount,
		"results":        summary.Results,
	})
}

// ====================== helpers ======================

func (c *CampaignController) tenant(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.Header.Get(TenantHeader))
	if err != nil {
		http.Error(w, "missing or invalid "+TenantHeader, http.StatusUnauthorized)
		return uuid.Nil, false
	}
	return id, true
}

func (c *CampaignController) tenantAndCampaign(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	tenantID, ok := c.tenant(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	campaignID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, campaignID, true
}

func (c *CampaignController) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		c.logger().Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	var notFound *appErrors.ErrCampaignNotFound
	switch {
	case errors.As(err, &notFound), errors.Is(err, appErrors.ErrContactNotFound):
		return http.StatusNotFound
	case errors.Is(err, appErrors.ErrInvalidInput), errors.Is(err, appErrors.ErrInvalidTarget):
		return http.StatusBadRequest
	case errors.Is(err, appErrors.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, appErrors.ErrEmptySelection), errors.Is(err, appErrors.ErrTemplateMissing):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
