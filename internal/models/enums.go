package models

import (
	"fmt"
	"time"
)

// SourceFrequency controls how often an opportunity source is re-scraped.
type SourceFrequency string

const (
	FrequencyDaily   SourceFrequency = "daily"
	FrequencyWeekly  SourceFrequency = "weekly"
	FrequencyMonthly SourceFrequency = "monthly"
	FrequencyManual  SourceFrequency = "manual"
)

// sourceIntervals maps each frequency to its re-run interval. Manual maps to
// a year so a manual source effectively never auto-runs.
var sourceIntervals = map[SourceFrequency]time.Duration{
	FrequencyDaily:   24 * time.Hour,
	FrequencyWeekly:  7 * 24 * time.Hour,
	FrequencyMonthly: 30 * 24 * time.Hour,
	FrequencyManual:  365 * 24 * time.Hour,
}

func (f SourceFrequency) Interval() time.Duration {
	if d, ok := sourceIntervals[f]; ok {
		return d
	}
	return sourceIntervals[FrequencyManual]
}

func (f SourceFrequency) Valid() bool {
	_, ok := sourceIntervals[f]
	return ok
}

func ParseSourceFrequency(s string) (SourceFrequency, error) {
	f := SourceFrequency(s)
	if !f.Valid() {
		return "", fmt.Errorf("unknown source frequency %q", s)
	}
	return f, nil
}

// AgentFrequency is the agent-side recurrence enum, expressed in hours.
type AgentFrequency string

const (
	AgentFrequency12h  AgentFrequency = "12h"
	AgentFrequency24h  AgentFrequency = "24h"
	AgentFrequency72h  AgentFrequency = "72h"
	AgentFrequency168h AgentFrequency = "168h"
)

var agentIntervals = map[AgentFrequency]time.Duration{
	AgentFrequency12h:  12 * time.Hour,
	AgentFrequency24h:  24 * time.Hour,
	AgentFrequency72h:  72 * time.Hour,
	AgentFrequency168h: 168 * time.Hour,
}

func (f AgentFrequency) Interval() time.Duration {
	if d, ok := agentIntervals[f]; ok {
		return d
	}
	return agentIntervals[AgentFrequency24h]
}

func (f AgentFrequency) Valid() bool {
	_, ok := agentIntervals[f]
	return ok
}

func ParseAgentFrequency(s string) (AgentFrequency, error) {
	f := AgentFrequency(s)
	if !f.Valid() {
		return "", fmt.Errorf("unknown agent frequency %q", s)
	}
	return f, nil
}

// NextRunAt derives the next due time from a frequency interval and the last
// run. A nil last run means the target has never run and is due immediately.
func NextRunAt(interval time.Duration, lastRun *time.Time, now time.Time) time.Time {
	if lastRun == nil {
		return now
	}
	return lastRun.Add(interval)
}

// SourceStatus is the source lifecycle. Sources are never hard-deleted;
// archival happens via status.
type SourceStatus string

const (
	SourceActive   SourceStatus = "active"
	SourcePaused   SourceStatus = "paused"
	SourceArchived SourceStatus = "archived"
)

func (s SourceStatus) Valid() bool {
	switch s {
	case SourceActive, SourcePaused, SourceArchived:
		return true
	}
	return false
}

// AgentStatus is the agent lifecycle.
type AgentStatus string

const (
	AgentActive   AgentStatus = "active"
	AgentPaused   AgentStatus = "paused"
	AgentDisabled AgentStatus = "disabled"
)

func (s AgentStatus) Valid() bool {
	switch s {
	case AgentActive, AgentPaused, AgentDisabled:
		return true
	}
	return false
}

// JobStatus tracks the state of one scrape attempt in the history table.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobError   JobStatus = "error"
	JobSkipped JobStatus = "skipped"
)

// RunStatus tracks one agent execution.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// ReviewStatus is the temp-opportunity review state. Transitions only move
// forward; see CanTransition.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending_review"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
	ReviewPromoted ReviewStatus = "promoted"
)

func (s ReviewStatus) Valid() bool {
	switch s {
	case ReviewPending, ReviewApproved, ReviewRejected, ReviewPromoted:
		return true
	}
	return false
}

var reviewTransitions = map[ReviewStatus][]ReviewStatus{
	ReviewPending:  {ReviewApproved, ReviewRejected},
	ReviewApproved: {ReviewPromoted},
	ReviewRejected: {ReviewPromoted},
	ReviewPromoted: {},
}

// CanTransition reports whether a review-status change is allowed. The state
// machine is strictly forward: pending_review -> {approved, rejected} ->
// promoted, never backward.
func CanTransition(from, to ReviewStatus) bool {
	for _, next := range reviewTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
