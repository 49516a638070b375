package models

import (
	"testing"
	"time"
)

func TestSourceFrequencyIntervals(t *testing.T) {
	tests := []struct {
		freq SourceFrequency
		want time.Duration
	}{
		{FrequencyDaily, 24 * time.Hour},
		{FrequencyWeekly, 7 * 24 * time.Hour},
		{FrequencyMonthly, 30 * 24 * time.Hour},
		{FrequencyManual, 365 * 24 * time.Hour},
	}
	for _, tt := range tests {
		if got := tt.freq.Interval(); got != tt.want {
			t.Errorf("%s.Interval() = %v, want %v", tt.freq, got, tt.want)
		}
	}
}

func TestParseSourceFrequency(t *testing.T) {
	if _, err := ParseSourceFrequency("daily"); err != nil {
		t.Errorf("daily should parse: %v", err)
	}
	if _, err := ParseSourceFrequency("hourly"); err == nil {
		t.Error("hourly should be rejected")
	}
	if _, err := ParseSourceFrequency(""); err == nil {
		t.Error("empty should be rejected")
	}
}

func TestNextRunAtNeverRun(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	got := NextRunAt(FrequencyDaily.Interval(), nil, now)
	if !got.Equal(now) {
		t.Errorf("never-run source should be due now, got %v", got)
	}
}

func TestNextRunAtDaily(t *testing.T) {
	lastRun := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	next := NextRunAt(FrequencyDaily.Interval(), &lastRun, time.Now())

	wantNext := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	if !next.Equal(wantNext) {
		t.Fatalf("next run = %v, want %v", next, wantNext)
	}

	// Not yet due the same day at noon, due the next day at 01:00.
	noon := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	if !next.After(noon) {
		t.Errorf("daily source should not be due at %v", noon)
	}
	nextDay := time.Date(2025, 1, 2, 1, 0, 0, 0, time.UTC)
	if next.After(nextDay) {
		t.Errorf("daily source should be due by %v", nextDay)
	}
}

func TestAgentFrequencyIntervals(t *testing.T) {
	if AgentFrequency72h.Interval() != 72*time.Hour {
		t.Error("72h interval wrong")
	}
	if AgentFrequency("other").Interval() != 24*time.Hour {
		t.Error("unknown agent frequency should fall back to 24h")
	}
}

func TestReviewTransitions(t *testing.T) {
	allowed := []struct{ from, to ReviewStatus }{
		{ReviewPending, ReviewApproved},
		{ReviewPending, ReviewRejected},
		{ReviewApproved, ReviewPromoted},
		{ReviewRejected, ReviewPromoted},
	}
	for _, tt := range allowed {
		if !CanTransition(tt.from, tt.to) {
			t.Errorf("%s -> %s should be allowed", tt.from, tt.to)
		}
	}

	denied := []struct{ from, to ReviewStatus }{
		{ReviewApproved, ReviewPending},
		{ReviewRejected, ReviewApproved},
		{ReviewPromoted, ReviewPending},
		{ReviewPromoted, ReviewApproved},
		{ReviewPending, ReviewPromoted},
		{ReviewPending, ReviewPending},
	}
	for _, tt := range denied {
		if CanTransition(tt.from, tt.to) {
			t.Errorf("%s -> %s should be denied", tt.from, tt.to)
		}
	}
}

func TestValidateScores(t *testing.T) {
	ok := 80
	high := 101
	neg := -1

	if err := ValidateScores(&ok, nil, nil); err != nil {
		t.Errorf("80 should be valid: %v", err)
	}
	if err := ValidateScores(nil, nil, nil); err != nil {
		t.Errorf("all nil should be valid: %v", err)
	}
	if err := ValidateScores(nil, &high, nil); err == nil {
		t.Error("101 should be rejected")
	}
	if err := ValidateScores(nil, nil, &neg); err == nil {
		t.Error("-1 should be rejected")
	}
}

func TestNewTempCode(t *testing.T) {
	code := NewTempCode()
	if len(code) != 12 || code[:4] != "OPP-" {
		t.Errorf("unexpected code format: %q", code)
	}
	if code == NewTempCode() {
		t.Error("codes should not repeat")
	}
}
