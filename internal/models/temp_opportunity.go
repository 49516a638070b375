package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OpportunityTemp is a candidate opportunity awaiting human review before
// promotion into the main opportunity record set. Scores are null at
// ingestion time and bounded [0,100] once set; raw_payload is the source of
// truth for re-derivation and is always populated.
type OpportunityTemp struct {
	ID                 uuid.UUID              `json:"id"`
	TenantID           uuid.UUID              `json:"tenant_id"`
	SourceID           *uuid.UUID             `json:"source_id"`
	HistoryID          uuid.UUID              `json:"history_id"`
	ReviewerID         *uuid.UUID             `json:"reviewer_id"`
	Code               string                 `json:"code"`
	Title              string                 `json:"title"`
	ClientName         string                 `json:"client_name"`
	Location           string                 `json:"location"`
	BudgetText         string                 `json:"budget_text"`
	Deadline           string                 `json:"deadline"`
	Documents          []string               `json:"documents"`
	Tags               []string               `json:"tags"`
	AISummary          string                 `json:"ai_summary"`
	AIMetadata         map[string]interface{} `json:"ai_metadata,omitempty"`
	RawPayload         map[string]interface{} `json:"raw_payload"`
	MatchScore         *int                   `json:"match_score"`
	RiskScore          *int                   `json:"risk_score"`
	StrategicFitScore  *int                   `json:"strategic_fit_score"`
	Status             ReviewStatus           `json:"status"`
	ReviewerNotes      string                 `json:"reviewer_notes,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
}

// NewTempCode generates the short human-facing identifier for a temp row.
func NewTempCode() string {
	return "OPP-" + strings.ToUpper(uuid.NewString()[:8])
}

// ValidScore reports whether a score pointer is either unset or in [0,100].
func ValidScore(v *int) bool {
	return v == nil || (*v >= 0 && *v <= 100)
}

// ValidateScores checks all three independent scores.
func ValidateScores(match, risk, fit *int) error {
	for name, v := range map[string]*int{
		"match_score":         match,
		"risk_score":          risk,
		"strategic_fit_score": fit,
	} {
		if !ValidScore(v) {
			return fmt.Errorf("%s out of range: %d", name, *v)
		}
	}
	return nil
}
