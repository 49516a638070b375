package ingest

import (
	"context"
	"log"
	"time"

	"github.com/amar74/opportunity-scout/internal/ai"
	"github.com/amar74/opportunity-scout/internal/db"
	"github.com/amar74/opportunity-scout/internal/models"
	"github.com/google/uuid"
)

// maxStoredContent caps the page text kept on the attempt row for debugging.
const maxStoredContent = 64 * 1024

// Writer persists the outcome of a scrape attempt. All candidate rows, the
// attempt close-out, and the schedule advance commit in one transaction; a
// SQL failure partway through rolls the whole attempt back.
type Writer struct {
	Store    *db.Store
	Embedder ai.Client
}

// PersistOutcome summarizes what one attempt wrote.
type PersistOutcome struct {
	Created           int
	SkippedDuplicates int
	SkippedInvalid    int
}

// PersistSourceAttempt writes the results of a successful source fetch.
func (w *Writer) PersistSourceAttempt(ctx context.Context, src *models.OpportunitySource, attemptID uuid.UUID, result *AttemptResult, now time.Time) (*PersistOutcome, error) {
	embeddings := w.embedCandidates(ctx, result.Candidates)

	tx, err := w.Store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	outcome := &PersistOutcome{}
	seen := make(map[string]bool)

	for i, c := range result.Candidates {
		if err := ValidateCandidate(c); err != nil {
			outcome.SkippedInvalid++
			log.Printf("[writer] skipping malformed candidate from %s: %v", result.PageURL, err)
			continue
		}

		historyID := attemptID
		if c.DetailURL != "" {
			hash := HashURL(c.DetailURL)
			if seen[hash] {
				outcome.SkippedDuplicates++
				continue
			}
			processed, err := w.Store.HasScrapeHistory(ctx, src.TenantID, hash)
			if err != nil {
				return nil, err
			}
			if processed {
				outcome.SkippedDuplicates++
				continue
			}
			seen[hash] = true

			detail := &models.OpportunityScrapeHistory{
				TenantID:    src.TenantID,
				SourceID:    &src.ID,
				URL:         c.DetailURL,
				URLHash:     hash,
				Status:      models.JobSuccess,
				CompletedAt: &now,
			}
			if err := w.Store.InsertScrapeHistory(ctx, tx, detail); err != nil {
				return nil, err
			}
			historyID = detail.ID
		}

		temp := buildTemp(c, src.TenantID, &src.ID, historyID)
		if err := w.Store.InsertTempOpportunity(ctx, tx, temp, embeddings[i]); err != nil {
			return nil, err
		}
		outcome.Created++
	}

	summary := map[string]interface{}{
		"candidates_found":   len(result.Candidates),
		"created":            outcome.Created,
		"skipped_duplicates": outcome.SkippedDuplicates,
		"skipped_invalid":    outcome.SkippedInvalid,
	}
	if err := w.Store.CloseScrapeHistory(ctx, tx, attemptID, models.JobSuccess, "", truncate(result.PageText, maxStoredContent), summary); err != nil {
		return nil, err
	}
	if err := w.Store.AdvanceSourceSchedule(ctx, tx, src, now, true); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return outcome, nil
}

// PersistSourceFailure closes out a failed attempt. The schedule still
// advances so one broken page cannot wedge the sweep in a retry loop.
func (w *Writer) PersistSourceFailure(ctx context.Context, src *models.OpportunitySource, attemptID uuid.UUID, attemptErr error, now time.Time) {
	pool := w.Store.Pool()
	if err := w.Store.CloseScrapeHistory(ctx, pool, attemptID, models.JobError, attemptErr.Error(), "", nil); err != nil {
		log.Printf("[writer] failed to close attempt %s: %v", attemptID, err)
	}
	if err := w.Store.AdvanceSourceSchedule(ctx, pool, src, now, false); err != nil {
		log.Printf("[writer] failed to advance schedule for source %s: %v", src.ID, err)
	}
}

// PersistAgentAttempt writes the results of a successful agent run. The run
// row closes in the same transaction as the candidate rows.
func (w *Writer) PersistAgentAttempt(ctx context.Context, ag *models.OpportunityAgent, runID, attemptID uuid.UUID, result *AttemptResult, now time.Time) (*PersistOutcome, error) {
	embeddings := w.embedCandidates(ctx, result.Candidates)

	tx, err := w.Store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	outcome := &PersistOutcome{}
	seen := make(map[string]bool)

	for i, c := range result.Candidates {
		if err := ValidateCandidate(c); err != nil {
			outcome.SkippedInvalid++
			log.Printf("[writer] skipping malformed candidate from agent %s: %v", ag.Name, err)
			continue
		}

		historyID := attemptID
		if c.DetailURL != "" {
			hash := HashURL(c.DetailURL)
			if seen[hash] {
				outcome.SkippedDuplicates++
				continue
			}
			processed, err := w.Store.HasScrapeHistory(ctx, ag.TenantID, hash)
			if err != nil {
				return nil, err
			}
			if processed {
				outcome.SkippedDuplicates++
				continue
			}
			seen[hash] = true

			detail := &models.OpportunityScrapeHistory{
				TenantID:    ag.TenantID,
				AgentID:     &ag.ID,
				URL:         c.DetailURL,
				URLHash:     hash,
				Status:      models.JobSuccess,
				CompletedAt: &now,
			}
			if err := w.Store.InsertScrapeHistory(ctx, tx, detail); err != nil {
				return nil, err
			}
			historyID = detail.ID
		}

		temp := buildTemp(c, ag.TenantID, nil, historyID)
		if err := w.Store.InsertTempOpportunity(ctx, tx, temp, embeddings[i]); err != nil {
			return nil, err
		}
		outcome.Created++
	}

	summary := map[string]interface{}{
		"candidates_found":   len(result.Candidates),
		"created":            outcome.Created,
		"skipped_duplicates": outcome.SkippedDuplicates,
		"skipped_invalid":    outcome.SkippedInvalid,
	}
	if err := w.Store.CloseScrapeHistory(ctx, tx, attemptID, models.JobSuccess, "", truncate(result.PageText, maxStoredContent), summary); err != nil {
		return nil, err
	}
	if err := w.Store.CloseAgentRun(ctx, tx, runID, models.RunSucceeded, outcome.Created, ""); err != nil {
		return nil, err
	}
	if err := w.Store.AdvanceAgentSchedule(ctx, tx, ag, now, true); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return outcome, nil
}

// PersistAgentFailure closes out a failed agent run.
func (w *Writer) PersistAgentFailure(ctx context.Context, ag *models.OpportunityAgent, runID, attemptID uuid.UUID, attemptErr error, now time.Time) {
	pool := w.Store.Pool()
	if err := w.Store.CloseScrapeHistory(ctx, pool, attemptID, models.JobError, attemptErr.Error(), "", nil); err != nil {
		log.Printf("[writer] failed to close attempt %s: %v", attemptID, err)
	}
	if err := w.Store.CloseAgentRun(ctx, pool, runID, models.RunFailed, 0, attemptErr.Error()); err != nil {
		log.Printf("[writer] failed to close run %s: %v", runID, err)
	}
	if err := w.Store.AdvanceAgentSchedule(ctx, pool, ag, now, false); err != nil {
		log.Printf("[writer] failed to advance schedule for agent %s: %v", ag.ID, err)
	}
}

// embedCandidates computes summary embeddings before the transaction opens,
// so the model backend is never called while rows are locked. Failures leave
// a nil slot; the temp row is still written without an embedding.
func (w *Writer) embedCandidates(ctx context.Context, candidates []ai.Candidate) [][]float32 {
	embeddings := make([][]float32, len(candidates))
	if w.Embedder == nil {
		return embeddings
	}
	for i, c := range candidates {
		text := c.Summary
		if text == "" {
			text = c.Title
		}
		if text == "" {
			continue
		}
		vec, err := w.Embedder.GenerateEmbedding(ctx, text)
		if err != nil {
			log.Printf("[writer] embedding failed for %q: %v", c.Title, err)
			continue
		}
		embeddings[i] = vec
	}
	return embeddings
}

func buildTemp(c ai.Candidate, tenantID uuid.UUID, sourceID *uuid.UUID, historyID uuid.UUID) *models.OpportunityTemp {
	raw := c.Raw
	if raw == nil {
		raw = map[string]interface{}{"title": c.Title}
	}
	if c.Documents == nil {
		c.Documents = []string{}
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	return &models.OpportunityTemp{
		TenantID:   tenantID,
		SourceID:   sourceID,
		HistoryID:  historyID,
		Code:       models.NewTempCode(),
		Title:      c.Title,
		ClientName: c.ClientName,
		Location:   c.Location,
		BudgetText: c.BudgetText,
		Deadline:   c.Deadline,
		Documents:  c.Documents,
		Tags:       c.Tags,
		AISummary:  c.Summary,
		RawPayload: raw,
		Status:     models.ReviewPending,
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
