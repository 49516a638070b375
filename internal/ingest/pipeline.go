package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/amar74/opportunity-scout/internal/ai"
	"github.com/amar74/opportunity-scout/internal/db"
	"github.com/amar74/opportunity-scout/internal/models"
	"github.com/google/uuid"
)

// Pipeline wires the fetch, extract, and persist stages together and owns
// the scheduled sweeps. Sources are processed one at a time; per-source
// isolation comes from the panic recover and the per-attempt error handling,
// not from concurrency.
type Pipeline struct {
	Store      *db.Store
	Executor   *Executor
	Writer     *Writer
	Lease      time.Duration
	StaleAfter time.Duration
}

func NewPipeline(store *db.Store, fetcher Fetcher, aiClient ai.Client) *Pipeline {
	return &Pipeline{
		Store:      store,
		Executor:   &Executor{Fetcher: fetcher, AI: aiClient},
		Writer:     &Writer{Store: store, Embedder: aiClient},
		Lease:      30 * time.Minute,
		StaleAfter: 2 * time.Hour,
	}
}

// SweepSummary reports one sweep over due sources or agents.
type SweepSummary struct {
	Processed            int      `json:"processed"`
	OpportunitiesCreated int      `json:"opportunities_created"`
	Errors               []string `json:"errors"`
}

// RunScheduledScrapes claims every due source and processes each in turn.
// A failing source is recorded in the summary and the sweep moves on.
func (p *Pipeline) RunScheduledScrapes(ctx context.Context) (*SweepSummary, error) {
	now := time.Now().UTC()
	due, err := p.Store.ClaimDueSources(ctx, now, p.Lease)
	if err != nil {
		return nil, err
	}

	summary := &SweepSummary{Errors: []string{}}
	for i := range due {
		src := &due[i]
		created, err := p.runSource(ctx, src)
		summary.Processed++
		summary.OpportunitiesCreated += created
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("source %s: %v", src.ID, err))
			log.Printf("[sweep] source %s (%s) failed: %v", src.ID, src.URL, err)
			continue
		}
		log.Printf("[sweep] source %s (%s): %d opportunities", src.ID, src.URL, created)
	}
	return summary, nil
}

// RunSourceNow triggers one source immediately, bypassing its schedule but
// not its lease.
func (p *Pipeline) RunSourceNow(ctx context.Context, tenantID, sourceID uuid.UUID) (*SweepSummary, error) {
	now := time.Now().UTC()
	src, err := p.Store.ClaimSource(ctx, tenantID, sourceID, now, p.Lease)
	if err != nil {
		return nil, err
	}

	summary := &SweepSummary{Errors: []string{}}
	created, err := p.runSource(ctx, src)
	summary.Processed = 1
	summary.OpportunitiesCreated = created
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("source %s: %v", src.ID, err))
	}
	return summary, nil
}

// runSource executes one scrape attempt for one source. The running audit
// row commits before any network work so a crash leaves evidence behind.
func (p *Pipeline) runSource(ctx context.Context, src *models.OpportunitySource) (created int, err error) {
	attempt := &models.OpportunityScrapeHistory{
		TenantID: src.TenantID,
		SourceID: &src.ID,
		URL:      src.URL,
		URLHash:  HashURL(src.URL),
		Status:   models.JobRunning,
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			log.Printf("[sweep] recovered panic processing source %s: %v", src.ID, r)
			// A panic must still close the attempt and advance the
			// schedule, or the source comes back every sweep once the
			// lease lapses.
			if attempt.ID != uuid.Nil {
				p.Writer.PersistSourceFailure(ctx, src, attempt.ID, err, time.Now().UTC())
			} else if relErr := p.Store.ReleaseSource(ctx, src.ID); relErr != nil {
				log.Printf("[sweep] failed to release source %s: %v", src.ID, relErr)
			}
		}
	}()
	if err := p.Store.InsertScrapeHistory(ctx, p.Store.Pool(), attempt); err != nil {
		// Nothing recorded yet, so just release the claim.
		if relErr := p.Store.ReleaseSource(ctx, src.ID); relErr != nil {
			log.Printf("[sweep] failed to release source %s: %v", src.ID, relErr)
		}
		return 0, fmt.Errorf("failed to record attempt: %w", err)
	}

	result, err := p.Executor.Run(ctx, src.URL, "")
	if err != nil {
		p.Writer.PersistSourceFailure(ctx, src, attempt.ID, err, time.Now().UTC())
		return 0, err
	}

	p.Executor.SniffMissingDeadlines(ctx, result.Candidates)

	outcome, err := p.Writer.PersistSourceAttempt(ctx, src, attempt.ID, result, time.Now().UTC())
	if err != nil {
		p.Writer.PersistSourceFailure(ctx, src, attempt.ID, err, time.Now().UTC())
		return 0, err
	}

	return outcome.Created, nil
}

// RunScheduledAgents claims every due agent and processes each in turn.
func (p *Pipeline) RunScheduledAgents(ctx context.Context) (*SweepSummary, error) {
	now := time.Now().UTC()
	due, err := p.Store.ClaimDueAgents(ctx, now, p.Lease)
	if err != nil {
		return nil, err
	}

	summary := &SweepSummary{Errors: []string{}}
	for i := range due {
		ag := &due[i]
		created, err := p.runAgent(ctx, ag)
		summary.Processed++
		summary.OpportunitiesCreated += created
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("agent %s: %v", ag.ID, err))
			log.Printf("[sweep] agent %s (%s) failed: %v", ag.ID, ag.Name, err)
			continue
		}
		log.Printf("[sweep] agent %s (%s): %d opportunities", ag.ID, ag.Name, created)
	}
	return summary, nil
}

func (p *Pipeline) runAgent(ctx context.Context, ag *models.OpportunityAgent) (created int, err error) {
	run := &models.OpportunityAgentRun{
		TenantID: ag.TenantID,
		AgentID:  ag.ID,
		Status:   models.RunRunning,
	}
	attempt := &models.OpportunityScrapeHistory{
		TenantID: ag.TenantID,
		AgentID:  &ag.ID,
		URL:      ag.BaseURL,
		URLHash:  HashURL(ag.BaseURL),
		Status:   models.JobRunning,
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			log.Printf("[sweep] recovered panic processing agent %s: %v", ag.ID, r)
			if run.ID != uuid.Nil {
				p.Writer.PersistAgentFailure(ctx, ag, run.ID, attempt.ID, err, time.Now().UTC())
			}
		}
	}()

	if err := p.Store.InsertAgentRun(ctx, run); err != nil {
		return 0, fmt.Errorf("failed to record run: %w", err)
	}
	if err := p.Store.InsertScrapeHistory(ctx, p.Store.Pool(), attempt); err != nil {
		p.Writer.PersistAgentFailure(ctx, ag, run.ID, attempt.ID, err, time.Now().UTC())
		return 0, fmt.Errorf("failed to record attempt: %w", err)
	}

	result, err := p.Executor.Run(ctx, ag.BaseURL, ag.Prompt)
	if err != nil {
		p.Writer.PersistAgentFailure(ctx, ag, run.ID, attempt.ID, err, time.Now().UTC())
		return 0, err
	}

	p.Executor.SniffMissingDeadlines(ctx, result.Candidates)

	outcome, err := p.Writer.PersistAgentAttempt(ctx, ag, run.ID, attempt.ID, result, time.Now().UTC())
	if err != nil {
		p.Writer.PersistAgentFailure(ctx, ag, run.ID, attempt.ID, err, time.Now().UTC())
		return 0, err
	}

	return outcome.Created, nil
}

// ReapStaleAttempts marks attempts stuck in running longer than StaleAfter
// as errored. Run it alongside the sweeps to reconcile after crashes.
func (p *Pipeline) ReapStaleAttempts(ctx context.Context) (int64, error) {
	reaped, err := p.Store.ReapStaleRunning(ctx, p.StaleAfter)
	if err != nil {
		return 0, err
	}
	if reaped > 0 {
		log.Printf("[sweep] reaped %d stale running attempts", reaped)
	}
	return reaped, nil
}
