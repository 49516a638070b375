package models

import (
	"time"

	"github.com/google/uuid"
)

// OpportunityScrapeHistory is the append-only audit trail: one row per URL
// actually fetched. The (tenant_id, url_hash) pair is the dedup key; any
// prior row counts as "already attempted" regardless of its status.
type OpportunityScrapeHistory struct {
	ID           uuid.UUID              `json:"id"`
	TenantID     uuid.UUID              `json:"tenant_id"`
	SourceID     *uuid.UUID             `json:"source_id"`
	AgentID      *uuid.UUID             `json:"agent_id"`
	URL          string                 `json:"url"`
	URLHash      string                 `json:"url_hash"`
	Status       JobStatus              `json:"status"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	RawContent   string                 `json:"raw_content,omitempty"`
	Extracted    map[string]interface{} `json:"extracted,omitempty"`
	StartedAt    time.Time              `json:"started_at"`
	CompletedAt  *time.Time             `json:"completed_at"`
}

// OpportunityAgentRun records one agent execution.
type OpportunityAgentRun struct {
	ID                   uuid.UUID  `json:"id"`
	TenantID             uuid.UUID  `json:"tenant_id"`
	AgentID              uuid.UUID  `json:"agent_id"`
	Status               RunStatus  `json:"status"`
	OpportunitiesCreated int        `json:"opportunities_created"`
	ErrorMessage         string     `json:"error_message,omitempty"`
	StartedAt            time.Time  `json:"started_at"`
	CompletedAt          *time.Time `json:"completed_at"`
}
