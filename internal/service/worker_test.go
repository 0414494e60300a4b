package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/wacampaigns-backend/internal/errors"
	"github.com/unclebandit/wacampaigns-backend/internal/model"
	"github.com/unclebandit/wacampaigns-backend/internal/queue"
	"github.com/unclebandit/wacampaigns-backend/internal/service"
)

func TestWorkerRunsQueuedCampaign(t *testing.T) {
	tmpl := newTemplate("Hola {{nombre}}")
	f := newRunFixture(NewMockCampaignRepo(), tmpl, newContact("Ana", "+1"), newContact("Beto", "+2"))

	q := queue.NewInMemoryQueue(nil)
	w := service.NewWorker(f.campaigns, f.runner, nil)
	require.NoError(t, queue.StartCampaignDispatchSubscriber(q, queue.DefaultDispatchTopic, func(job model.DispatchJob) error {
		return w.Process(context.Background(), job)
	}, nil))

	svc := &service.CampaignService{
		CampaignRepo: f.campaigns,
		ContactRepo:  f.contacts,
		TemplateRepo: f.templates,
		Resolver:     &service.Resolver{Contacts: f.contacts},
		Aggregator:   f.agg,
		Queue:        q,
	}
	c, err := svc.CreateCampaign(context.Background(), tenantID, service.CreateCampaignInput{
		Name:       "Now",
		TemplateID: &tmpl.ID,
		SendType:   model.SendTypeImmediate,
	})
	require.NoError(t, err)
	q.Wait()

	stored := f.campaigns.get(c.ID)
	assert.Equal(t, model.CampaignStatusCompleted, stored.Status)
	assert.Equal(t, 2, stored.MessagesSent)
	assert.Len(t, f.sender.calls(), 2)
}

func TestWorkerSkipsCampaignNotSending(t *testing.T) {
	tmpl := newTemplate("hi")
	c := draftCampaign("draft")
	c.TemplateID = &tmpl.ID
	f := newRunFixture(NewMockCampaignRepo(c), tmpl, newContact("Ana", "+1"))
	w := service.NewWorker(f.campaigns, f.runner, nil)

	require.NoError(t, w.Process(context.Background(), model.DispatchJob{CampaignID: c.ID, TenantID: tenantID}))
	assert.Empty(t, f.sender.calls())
	assert.Equal(t, model.CampaignStatusDraft, f.campaigns.get(c.ID).Status)
}

func TestWorkerDropsJobForMissingCampaign(t *testing.T) {
	tmpl := newTemplate("hi")
	f := newRunFixture(NewMockCampaignRepo(), tmpl)
	w := service.NewWorker(f.campaigns, f.runner, nil)

	assert.NoError(t, w.Process(context.Background(), model.DispatchJob{CampaignID: uuid.New(), TenantID: tenantID}))
}

func TestWorkerRedeliveryNeverResends(t *testing.T) {
	tmpl := newTemplate("Hola {{nombre}}")
	c := &model.Campaign{ID: uuid.New(), UserID: tenantID, Name: "promo", TemplateID: &tmpl.ID, Status: model.CampaignStatusSending}
	f := newRunFixture(NewMockCampaignRepo(c), tmpl, newContact("Ana", "+1"), newContact("Beto", "+2"))
	w := service.NewWorker(f.campaigns, f.runner, nil)
	job := model.DispatchJob{CampaignID: c.ID, TenantID: tenantID}

	// shutdown lands after the first send and the database is already gone
	// when the run tries to record its failure
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.sender.onSend = func(n int) {
		cancel()
		f.campaigns.setFinalizeErr(errors.New("sql: database is closed"))
	}
	require.NoError(t, w.Process(ctx, job))
	require.Equal(t, model.CampaignStatusSending, f.campaigns.get(c.ID).Status)
	require.Len(t, f.sender.calls(), 1)

	// the unacked job comes back after a restart
	f.sender.onSend = nil
	f.campaigns.setFinalizeErr(nil)
	require.NoError(t, w.Process(context.Background(), job))

	calls := f.sender.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "+1", calls[0].To)
	assert.Equal(t, model.CampaignStatusSending, f.campaigns.get(c.ID).Status)
}

func TestWorkerRunsOncePerCampaign(t *testing.T) {
	tmpl := newTemplate("hi")
	c := &model.Campaign{ID: uuid.New(), UserID: tenantID, Name: "promo", TemplateID: &tmpl.ID, Status: model.CampaignStatusSending}
	f := newRunFixture(NewMockCampaignRepo(c), tmpl, newContact("Ana", "+1"))
	w := service.NewWorker(f.campaigns, f.runner, nil)
	job := model.DispatchJob{CampaignID: c.ID, TenantID: tenantID}

	require.NoError(t, w.Process(context.Background(), job))
	// a duplicate published before the first run finished
	f.campaigns.setStatus(c.ID, model.CampaignStatusSending)
	require.NoError(t, w.Process(context.Background(), job))

	assert.Len(t, f.sender.calls(), 1)
}

func TestWorkerRetriesWhenRunWasNeverClaimed(t *testing.T) {
	tmpl := newTemplate("hi")
	c := &model.Campaign{ID: uuid.New(), UserID: tenantID, Name: "promo", TemplateID: &tmpl.ID, Status: model.CampaignStatusSending}
	f := newRunFixture(NewMockCampaignRepo(c), tmpl, newContact("Ana", "+1"))
	w := service.NewWorker(f.campaigns, f.runner, nil)
	job := model.DispatchJob{CampaignID: c.ID, TenantID: tenantID}

	f.campaigns.claimErr = errors.New("connection reset")
	var perr *appErrors.PersistenceError
	require.ErrorAs(t, w.Process(context.Background(), job), &perr)
	assert.Empty(t, f.sender.calls())

	f.campaigns.claimErr = nil
	require.NoError(t, w.Process(context.Background(), job))
	assert.Len(t, f.sender.calls(), 1)
	assert.Equal(t, model.CampaignStatusCompleted, f.campaigns.get(c.ID).Status)
}

func TestWorkerRequeuesAfterShutdown(t *testing.T) {
	tmpl := newTemplate("hi")
	c := &model.Campaign{ID: uuid.New(), UserID: tenantID, Name: "promo", TemplateID: &tmpl.ID, Status: model.CampaignStatusSending}
	f := newRunFixture(NewMockCampaignRepo(c), tmpl, newContact("Ana", "+1"))
	w := service.NewWorker(f.campaigns, f.runner, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.Process(ctx, model.DispatchJob{CampaignID: c.ID, TenantID: tenantID}), context.Canceled)
	assert.Empty(t, f.sender.calls())
}
