// internal/service/template_service.go
package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	appErrors "github.com/unclebandit/wacampaigns-backend/internal/errors"
	"github.com/unclebandit/wacampaigns-backend/internal/model"
	"github.com/unclebandit/wacampaigns-backend/internal/repository"
)

// {{ key }} with optional inner whitespace
var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}\s]+)\s*\}\}`)

// RenderTemplate replaces every {{key}} token whose lower-cased key is in data.
// Tokens with unknown keys are left untouched. Values are never re-scanned.
func RenderTemplate(template string, data map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(token string) string {
		key := strings.ToLower(placeholderPattern.FindStringSubmatch(token)[1])
		if v, ok := data[key]; ok {
			return v
		}
		return token
	})
}

// ContactFields maps every recognized placeholder key to the contact's value.
// Absent optional fields map to the empty string.
func ContactFields(c *model.Contact) map[string]string {
	email, city := "", ""
	if c.Email != nil {
		email = *c.Email
	}
	if c.City != nil {
		city = *c.City
	}
	return map[string]string{
		"nombre":    c.FullName,
		"name":      c.FullName,
		"full_name": c.FullName,
		"1":         c.FullName,
		"telefono":  c.Phone,
		"phone":     c.Phone,
		"email":     email,
		"correo":    email,
		"ciudad":    city,
		"city":      city,
	}
}

// RenderMessage personalizes a template body for one recipient.
func RenderMessage(body string, c *model.Contact) string {
	return RenderTemplate(body, ContactFields(c))
}

// ExtractPlaceholders lists the distinct placeholder names in body,
// lower-cased, in the order they first appear.
func ExtractPlaceholders(body string) []string {
	names := []string{}
	seen := map[string]bool{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(body, -1) {
		name := strings.ToLower(m[1])
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

type TemplateService struct {
	TemplateRepo repository.TemplateRepositoryInterface
}

type CreateTemplateInput struct {
	Name               string  `json:"name"`
	Content            string  `json:"content"`
	Description        *string `json:"description"`
	WhatsAppTemplateID *string `json:"whatsapp_template_id"`
}

// CreateTemplate stores a template with its placeholder names derived from the body.
func (s *TemplateService) CreateTemplate(ctx context.Context, tenantID uuid.UUID, in CreateTemplateInput) (*model.MessageTemplate, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: template name is required", appErrors.ErrInvalidInput)
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, fmt.Errorf("%w: template content is required", appErrors.ErrInvalidInput)
	}

	t := &model.MessageTemplate{
		UserID:             tenantID,
		Name:               strings.TrimSpace(in.Name),
		Content:            in.Content,
		Variables:          pq.StringArray(ExtractPlaceholders(in.Content)),
		Description:        in.Description,
		WhatsAppTemplateID: in.WhatsAppTemplateID,
	}
	if err := s.TemplateRepo.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}
