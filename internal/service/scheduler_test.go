package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/wacampaigns-backend/internal/errors"
	"github.com/unclebandit/wacampaigns-backend/internal/model"
	"github.com/unclebandit/wacampaigns-backend/internal/service"
)

type runFixture struct {
	campaigns *MockCampaignRepo
	contacts  *MockContactRepo
	templates *MockTemplateRepo
	messages  *MockMessageRepo
	sender    *FakeSender
	audit     *RecordingAudit
	runner    *service.Runner
	agg       *service.Aggregator
}

func newRunFixture(campaigns *MockCampaignRepo, tmpl *model.MessageTemplate, contacts ...model.Contact) *runFixture {
	f := &runFixture{
		campaigns: campaigns,
		contacts:  &MockContactRepo{contacts: contacts},
		templates: NewMockTemplateRepo(tmpl),
		messages:  &MockMessageRepo{},
		sender:    &FakeSender{failPhones: map[string]bool{}},
		audit:     &RecordingAudit{},
	}
	f.agg = &service.Aggregator{Campaigns: campaigns, Audit: f.audit}
	f.runner = &service.Runner{
		Templates: f.templates,
		Resolver:  &service.Resolver{Contacts: f.contacts},
		Dispatcher: &service.Dispatcher{
			Sender:    f.sender,
			Campaigns: campaigns,
			Messages:  f.messages,
			Contacts:  f.contacts,
			Audit:     f.audit,
		},
		Aggregator: f.agg,
	}
	return f
}

func (f *runFixture) scheduler() *service.Scheduler {
	return &service.Scheduler{Campaigns: f.campaigns, Runner: f.runner, Aggregator: f.agg}
}

func scheduledCampaign(name string, at time.Time, tmpl *model.MessageTemplate) *model.Campaign {
	return &model.Campaign{
		ID:          uuid.New(),
		UserID:      tenantID,
		Name:        name,
		TemplateID:  &tmpl.ID,
		SendType:    model.SendTypeScheduled,
		ScheduledAt: &at,
		Status:      model.CampaignStatusScheduled,
	}
}

func TestRunnerCompletesWithMixedOutcomes(t *testing.T) {
	tmpl := newTemplate("Hola {{nombre}}")
	c := &model.Campaign{ID: uuid.New(), UserID: tenantID, Name: "promo", TemplateID: &tmpl.ID, Status: model.CampaignStatusSending}
	repo := NewMockCampaignRepo(c)
	f := newRunFixture(repo, tmpl, newContact("Ana", "+1"), newContact("Beto", "+2"), newContact("Cami", "+3"))
	f.sender.failPhones["+2"] = true

	summary, err := f.runner.Run(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Sent)
	assert.Equal(t, 1, summary.Failed)

	stored := repo.get(c.ID)
	assert.Equal(t, model.CampaignStatusCompleted, stored.Status)
	assert.Equal(t, 3, stored.TotalContacts)
	assert.Equal(t, 2, stored.MessagesSent)
	assert.Equal(t, 1, stored.MessagesFailed)
	assert.Equal(t, 0, stored.MessagesPending)
	assert.NotNil(t, stored.CompletedAt)
}

func TestSchedulerRunsDueCampaignsInOrder(t *testing.T) {
	now := time.Now()
	tmpl := newTemplate("Hola {{nombre}}")
	b := scheduledCampaign("B", now.Add(-time.Minute), tmpl)
	a := scheduledCampaign("A", now.Add(-time.Hour), tmpl)
	future := scheduledCampaign("F", now.Add(time.Hour), tmpl)
	repo := NewMockCampaignRepo(b, future, a)
	f := newRunFixture(repo, tmpl, newContact("Ana", "+1"))

	summary, err := f.scheduler().Trigger(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.ProcessedCount)
	assert.Equal(t, []string{"A:sending", "A:completed", "B:sending", "B:completed"}, repo.eventLog())
	assert.Equal(t, model.CampaignStatusScheduled, repo.get(future.ID).Status)
	assert.Equal(t, "A", summary.Results[0].Name)
	assert.Equal(t, model.CampaignStatusCompleted, summary.Results[0].Status)
	assert.Equal(t, 1, summary.Results[0].Sent)
}

func TestSchedulerNeverRunsEarly(t *testing.T) {
	now := time.Now()
	tmpl := newTemplate("hi")
	future := scheduledCampaign("F", now.Add(time.Second), tmpl)
	draft := draftCampaign("D")
	repo := NewMockCampaignRepo(future, draft)
	repo.ignoreDueFilter = true
	f := newRunFixture(repo, tmpl, newContact("Ana", "+1"))

	summary, err := f.scheduler().Trigger(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.ProcessedCount)
	assert.Empty(t, f.sender.calls())
	assert.Empty(t, repo.eventLog())
}

func TestSchedulerMissingTemplateFailsWithoutSending(t *testing.T) {
	now := time.Now()
	tmpl := newTemplate("hi")
	c := scheduledCampaign("orphan", now.Add(-time.Minute), tmpl)
	missing := uuid.New()
	c.TemplateID = &missing
	repo := NewMockCampaignRepo(c)
	f := newRunFixture(repo, tmpl, newContact("Ana", "+1"))

	summary, err := f.scheduler().Trigger(context.Background(), now)
	require.NoError(t, err)

	require.Len(t, summary.Results, 1)
	assert.Equal(t, model.CampaignStatusFailed, summary.Results[0].Status)
	assert.Contains(t, summary.Results[0].Error, appErrors.ErrTemplateMissing.Error())
	assert.Empty(t, f.sender.calls())

	stored := repo.get(c.ID)
	assert.Equal(t, model.CampaignStatusFailed, stored.Status)
	assert.Equal(t, 0, stored.MessagesSent)
	assert.NotNil(t, f.audit.find("campaign_failed"))
}

func TestSchedulerEmptyAudienceFails(t *testing.T) {
	now := time.Now()
	tmpl := newTemplate("hi")
	c := scheduledCampaign("nobody", now.Add(-time.Minute), tmpl)
	repo := NewMockCampaignRepo(c)
	blocked := newContact("Ana", "+1")
	blocked.IsBlocked = true
	f := newRunFixture(repo, tmpl, blocked)

	_, err := f.scheduler().Trigger(context.Background(), now)
	require.NoError(t, err)

	stored := repo.get(c.ID)
	assert.Equal(t, model.CampaignStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, appErrors.ErrEmptySelection.Error())
}

func TestSchedulerCampaignClaimedOnce(t *testing.T) {
	now := time.Now()
	tmpl := newTemplate("hi")
	c := scheduledCampaign("once", now.Add(-time.Minute), tmpl)
	repo := NewMockCampaignRepo(c)
	f := newRunFixture(repo, tmpl, newContact("Ana", "+1"), newContact("Beto", "+2"))

	first, second := f.scheduler(), f.scheduler()
	done := make(chan *service.TriggerSummary, 2)
	for _, s := range []*service.Scheduler{first, second} {
		go func(s *service.Scheduler) {
			summary, _ := s.Trigger(context.Background(), now)
			done <- summary
		}(s)
	}
	processed := 0
	for i := 0; i < 2; i++ {
		processed += (<-done).ProcessedCount
	}

	assert.Equal(t, 1, processed)
	assert.Len(t, f.sender.calls(), 2)
	assert.Equal(t, model.CampaignStatusCompleted, repo.get(c.ID).Status)
}

func TestSchedulerHonoursBatchSize(t *testing.T) {
	now := time.Now()
	tmpl := newTemplate("hi")
	cs := []*model.Campaign{}
	for i := 0; i < 4; i++ {
		cs = append(cs, scheduledCampaign("c", now.Add(-time.Duration(i+1)*time.Minute), tmpl))
	}
	repo := NewMockCampaignRepo(cs...)
	f := newRunFixture(repo, tmpl, newContact("Ana", "+1"))
	s := f.scheduler()
	s.BatchSize = 3

	summary, err := s.Trigger(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.ProcessedCount)

	summary, err = s.Trigger(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ProcessedCount)
}
