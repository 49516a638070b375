package models

import (
	"time"

	"github.com/google/uuid"
)

// OpportunitySource is a recurring scrape target owned by a tenant.
type OpportunitySource struct {
	ID            uuid.UUID       `json:"id"`
	TenantID      uuid.UUID       `json:"tenant_id"`
	UserID        uuid.UUID       `json:"user_id"`
	URL           string          `json:"url"`
	Category      string          `json:"category"`
	Frequency     SourceFrequency `json:"frequency"`
	Status        SourceStatus    `json:"status"`
	Tags          []string        `json:"tags"`
	AutoDiscovery bool            `json:"auto_discovery"`
	LastRunAt     *time.Time      `json:"last_run_at"`
	LastSuccessAt *time.Time      `json:"last_success_at"`
	NextRunAt     *time.Time      `json:"next_run_at"`
	ClaimedUntil  *time.Time      `json:"claimed_until,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// OpportunityAgent is a recurring AI-prompt-driven discovery target,
// structurally parallel to OpportunitySource but keyed by a natural-language
// prompt and a base URL.
type OpportunityAgent struct {
	ID            uuid.UUID      `json:"id"`
	TenantID      uuid.UUID      `json:"tenant_id"`
	UserID        uuid.UUID      `json:"user_id"`
	Name          string         `json:"name"`
	Prompt        string         `json:"prompt"`
	BaseURL       string         `json:"base_url"`
	Frequency     AgentFrequency `json:"frequency"`
	Status        AgentStatus    `json:"status"`
	LastRunAt     *time.Time     `json:"last_run_at"`
	LastSuccessAt *time.Time     `json:"last_success_at"`
	NextRunAt     *time.Time     `json:"next_run_at"`
	ClaimedUntil  *time.Time     `json:"claimed_until,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
