package service_test

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/wacampaigns-backend/internal/errors"
	"github.com/unclebandit/wacampaigns-backend/internal/gateway"
	"github.com/unclebandit/wacampaigns-backend/internal/model"
	"github.com/unclebandit/wacampaigns-backend/internal/repository"
)

func ptr[T any](v T) *T { return &v }

// ---------- campaigns ----------

type MockCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[uuid.UUID]*model.Campaign
	order     []uuid.UUID
	events    []string
	finalized []repository.FinalizeParams
	runs      map[uuid.UUID]bool

	// ignoreDueFilter makes ListDue return every campaign
	ignoreDueFilter bool
	finalizeErr     error
	claimErr        error
	stats           map[string]int
}

func NewMockCampaignRepo(cs ...*model.Campaign) *MockCampaignRepo {
	m := &MockCampaignRepo{campaigns: map[uuid.UUID]*model.Campaign{}, runs: map[uuid.UUID]bool{}}
	for _, c := range cs {
		m.put(c)
	}
	return m
}

func (m *MockCampaignRepo) put(c *model.Campaign) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	cp := *c
	m.campaigns[c.ID] = &cp
	m.order = append(m.order, c.ID)
}

func (m *MockCampaignRepo) Create(ctx context.Context, c *model.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.CreatedAt = time.Now()
	m.put(c)
	return nil
}

func (m *MockCampaignRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || c.UserID != tenantID {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (m *MockCampaignRepo) ListCampaigns(ctx context.Context, tenantID uuid.UUID, offset, limit int, status string) ([]*model.Campaign, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := []*model.Campaign{}
	for _, id := range m.order {
		c := m.campaigns[id]
		if c.UserID == tenantID && (status == "" || string(c.Status) == status) {
			cp := *c
			all = append(all, &cp)
		}
	}
	if offset >= len(all) {
		return []*model.Campaign{}, len(all), nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], len(all), nil
}

func (m *MockCampaignRepo) GetStatus(ctx context.Context, id uuid.UUID) (model.CampaignStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return "", appErrors.NewCampaignNotFound(id)
	}
	return c.Status, nil
}

func (m *MockCampaignRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	due := []*model.Campaign{}
	for _, id := range m.order {
		c := m.campaigns[id]
		if m.ignoreDueFilter || (c.Status == model.CampaignStatusScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now)) {
			cp := *c
			due = append(due, &cp)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		if due[i].ScheduledAt == nil || due[j].ScheduledAt == nil {
			return false
		}
		return due[i].ScheduledAt.Before(*due[j].ScheduledAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *MockCampaignRepo) TransitionStatus(ctx context.Context, id uuid.UUID, from, to model.CampaignStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	m.events = append(m.events, c.Name+":"+string(to))
	return true, nil
}

func (m *MockCampaignRepo) ClaimRun(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return false, m.claimErr
	}
	c, ok := m.campaigns[id]
	if !ok || c.Status != model.CampaignStatusSending || m.runs[id] {
		return false, nil
	}
	m.runs[id] = true
	return true, nil
}

func (m *MockCampaignRepo) UpdateTotals(ctx context.Context, id uuid.UUID, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.campaigns[id]; ok {
		c.TotalContacts = total
		c.MessagesPending = total
	}
	return nil
}

func (m *MockCampaignRepo) Finalize(ctx context.Context, p repository.FinalizeParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finalizeErr != nil {
		return false, m.finalizeErr
	}
	c, ok := m.campaigns[p.ID]
	if !ok {
		return false, errors.New("no such campaign")
	}
	if c.Status != p.From {
		return false, nil
	}
	m.finalized = append(m.finalized, p)
	c.Status = p.Status
	c.TotalContacts = p.Total
	c.MessagesSent = p.Sent
	c.MessagesFailed = p.Failed
	c.MessagesPending = p.Pending
	c.CompletedAt = &p.CompletedAt
	c.ErrorMessage = p.ErrorMessage
	m.events = append(m.events, c.Name+":"+string(p.Status))
	return true, nil
}

func (m *MockCampaignRepo) GetCampaignStats(ctx context.Context, campaignID uuid.UUID) (map[string]int, error) {
	if m.stats == nil {
		return map[string]int{"total": 0, "sent": 0, "failed": 0}, nil
	}
	return m.stats, nil
}

func (m *MockCampaignRepo) setStatus(id uuid.UUID, status model.CampaignStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaigns[id].Status = status
}

func (m *MockCampaignRepo) setFinalizeErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalizeErr = err
}

func (m *MockCampaignRepo) get(id uuid.UUID) model.Campaign {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.campaigns[id]
}

func (m *MockCampaignRepo) eventLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

// ---------- contacts ----------

type MockContactRepo struct {
	mu       sync.Mutex
	contacts []model.Contact
	blocked  []uuid.UUID
	calls    int
}

func (m *MockContactRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*model.Contact, error) {
	for _, c := range m.contacts {
		if c.ID == id && c.UserID == tenantID {
			cp := c
			return &cp, nil
		}
	}
	return nil, appErrors.ErrContactNotFound
}

func (m *MockContactRepo) sorted(keep func(model.Contact) bool) []model.Contact {
	out := []model.Contact{}
	for _, c := range m.contacts {
		if keep(c) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FullName != out[j].FullName {
			return out[i].FullName < out[j].FullName
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (m *MockContactRepo) ListEligible(ctx context.Context, tenantID uuid.UUID) ([]model.Contact, error) {
	m.calls++
	return m.sorted(func(c model.Contact) bool { return c.UserID == tenantID && c.Eligible() }), nil
}

func (m *MockContactRepo) ListEligibleByUploads(ctx context.Context, tenantID uuid.UUID, uploadIDs []uuid.UUID) ([]model.Contact, error) {
	m.calls++
	in := map[uuid.UUID]bool{}
	for _, id := range uploadIDs {
		in[id] = true
	}
	return m.sorted(func(c model.Contact) bool {
		return c.UserID == tenantID && c.UploadID != nil && in[*c.UploadID] && c.Eligible()
	}), nil
}

func (m *MockContactRepo) ListByIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]model.Contact, error) {
	m.calls++
	in := map[uuid.UUID]bool{}
	for _, id := range ids {
		in[id] = true
	}
	// no eligibility filter, like the real query
	return m.sorted(func(c model.Contact) bool { return c.UserID == tenantID && in[c.ID] }), nil
}

func (m *MockContactRepo) FindByPhone(ctx context.Context, tenant uuid.UUID, phone string) (*model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var owned []model.Contact
	for _, c := range m.contacts {
		if c.UserID == tenant {
			owned = append(owned, c)
		}
	}
	for _, c := range owned {
		if c.Phone == phone {
			cp := c
			return &cp, nil
		}
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	if len(digits) > 10 {
		digits = digits[len(digits)-10:]
	}
	for _, c := range owned {
		if digits != "" && strings.HasSuffix(c.Phone, digits) {
			cp := c
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MockContactRepo) Block(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked = append(m.blocked, id)
	for i := range m.contacts {
		if m.contacts[i].ID == id {
			m.contacts[i].IsBlocked = true
		}
	}
	return nil
}

func (m *MockContactRepo) TouchLastMessageSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	return nil
}

// ---------- whatsapp config ----------

type MockConfigRepo struct {
	configs []model.WhatsAppConfig
}

func (m *MockConfigRepo) GetByTenant(ctx context.Context, tenant uuid.UUID) (*model.WhatsAppConfig, error) {
	for _, c := range m.configs {
		if c.UserID == tenant {
			cp := c
			return &cp, nil
		}
	}
	return nil, appErrors.ErrGatewayNotConfigured
}

func (m *MockConfigRepo) GetByPhoneNumber(ctx context.Context, phone string) (*model.WhatsAppConfig, error) {
	for _, c := range m.configs {
		if c.PhoneNumberID != nil && gateway.StripWhatsAppPrefix(*c.PhoneNumberID) == phone {
			cp := c
			return &cp, nil
		}
	}
	return nil, appErrors.ErrGatewayNotConfigured
}

func (m *MockConfigRepo) IncrementSentToday(ctx context.Context, tenant uuid.UUID) error { return nil }

func (m *MockConfigRepo) MarkVerified(ctx context.Context, tenant uuid.UUID) error { return nil }

// ---------- templates ----------

type MockTemplateRepo struct {
	templates map[uuid.UUID]*model.MessageTemplate
	created   []*model.MessageTemplate
}

func NewMockTemplateRepo(ts ...*model.MessageTemplate) *MockTemplateRepo {
	m := &MockTemplateRepo{templates: map[uuid.UUID]*model.MessageTemplate{}}
	for _, t := range ts {
		m.templates[t.ID] = t
	}
	return m
}

func (m *MockTemplateRepo) Create(ctx context.Context, t *model.MessageTemplate) error {
	t.ID = uuid.New()
	m.created = append(m.created, t)
	m.templates[t.ID] = t
	return nil
}

func (m *MockTemplateRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*model.MessageTemplate, error) {
	t, ok := m.templates[id]
	if !ok || t.UserID != tenantID {
		return nil, appErrors.ErrTemplateMissing
	}
	return t, nil
}

func (m *MockTemplateRepo) IncrementUsage(ctx context.Context, id uuid.UUID) error { return nil }

// ---------- messages ----------

type MockMessageRepo struct {
	mu        sync.Mutex
	messages  []*model.Message
	responded map[uuid.UUID]string
}

func (m *MockMessageRepo) Create(ctx context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = uuid.New()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *MockMessageRepo) LastSentToContact(ctx context.Context, contactID uuid.UUID) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.messages) - 1; i >= 0; i-- {
		msg := m.messages[i]
		if msg.ContactID == contactID && msg.Status == model.MessageStatusSent {
			return msg, nil
		}
	}
	return nil, nil
}

func (m *MockMessageRepo) MarkResponded(ctx context.Context, id uuid.UUID, content string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.responded == nil {
		m.responded = map[uuid.UUID]string{}
	}
	m.responded[id] = content
	return nil
}

func (m *MockMessageRepo) byStatus(status model.MessageStatus) []*model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.Message{}
	for _, msg := range m.messages {
		if msg.Status == status {
			out = append(out, msg)
		}
	}
	return out
}

// ---------- audit ----------

type RecordingAudit struct {
	mu      sync.Mutex
	entries []model.AuditEntry
}

func (r *RecordingAudit) Append(e model.AuditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *RecordingAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []string{}
	for _, e := range r.entries {
		out = append(out, e.ActionType)
	}
	return out
}

func (r *RecordingAudit) find(action string) *model.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].ActionType == action {
			return &r.entries[i]
		}
	}
	return nil
}

// ---------- sender ----------

// FakeSender fails every phone in failPhones and records call order.
type FakeSender struct {
	mu         sync.Mutex
	failPhones map[string]bool
	sent       []gateway.Message
	onSend     func(n int)
}

func (f *FakeSender) Send(ctx context.Context, msg gateway.Message) (*gateway.Receipt, error) {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	n := len(f.sent)
	hook := f.onSend
	fail := f.failPhones[msg.To]
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if fail {
		return nil, appErrors.NewSendError(21211, "invalid 'To' number")
	}
	return &gateway.Receipt{ExternalID: "SM" + msg.To, Status: "queued"}, nil
}

func (f *FakeSender) calls() []gateway.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.Message(nil), f.sent...)
}

// ---------- fixtures ----------

var tenantID = uuid.MustParse("11111111-1111-1111-1111-111111111111")

func newContact(name, phone string) model.Contact {
	return model.Contact{ID: uuid.New(), UserID: tenantID, FullName: name, Phone: phone, IsActive: true}
}

// businessNumber is the tenant's WhatsApp sender, the To of every inbound message.
const businessNumber = "whatsapp:+14155238886"

func tenantConfigs() *MockConfigRepo {
	return &MockConfigRepo{configs: []model.WhatsAppConfig{
		{ID: uuid.New(), UserID: tenantID, PhoneNumberID: ptr(businessNumber), IsActive: true},
	}}
}

func newTemplate(content string) *model.MessageTemplate {
	return &model.MessageTemplate{ID: uuid.New(), UserID: tenantID, Name: "t", Content: content, IsActive: true}
}
