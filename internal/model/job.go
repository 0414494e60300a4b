// internal/model/job.go
package model

import "github.com/google/uuid"

// DispatchJob asks a worker to run a campaign that is already in sending.
type DispatchJob struct {
	CampaignID uuid.UUID `json:"campaign_id"`
	TenantID   uuid.UUID `json:"tenant_id"`
}
