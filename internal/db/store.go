package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/amar74/opportunity-scout/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid review transition")
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx so store methods can
// run standalone or inside the writer's attempt transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}

// ---- Sources ----

const sourceCols = `id, tenant_id, user_id, url, category, frequency, status, tags,
	auto_discovery, last_run_at, last_success_at, next_run_at, claimed_until,
	created_at, updated_at`

func scanSource(scan func(dest ...interface{}) error) (models.OpportunitySource, error) {
	var src models.OpportunitySource
	var frequency, status string
	err := scan(
		&src.ID, &src.TenantID, &src.UserID, &src.URL, &src.Category, &frequency, &status, &src.Tags,
		&src.AutoDiscovery, &src.LastRunAt, &src.LastSuccessAt, &src.NextRunAt, &src.ClaimedUntil,
		&src.CreatedAt, &src.UpdatedAt,
	)
	if err != nil {
		return src, err
	}
	src.Frequency = models.SourceFrequency(frequency)
	src.Status = models.SourceStatus(status)
	return src, nil
}

func (s *Store) CreateSource(ctx context.Context, src *models.OpportunitySource) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO opportunity_sources (tenant_id, user_id, url, category, frequency, status, tags, auto_discovery)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`, src.TenantID, src.UserID, src.URL, src.Category, string(src.Frequency), string(src.Status), src.Tags, src.AutoDiscovery,
	).Scan(&src.ID, &src.CreatedAt, &src.UpdatedAt)
}

func (s *Store) GetSource(ctx context.Context, tenantID, id uuid.UUID) (*models.OpportunitySource, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM opportunity_sources WHERE tenant_id = $1 AND id = $2
	`, sourceCols), tenantID, id)

	src, err := scanSource(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &src, nil
}

func (s *Store) ListSources(ctx context.Context, tenantID uuid.UUID) ([]models.OpportunitySource, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM opportunity_sources WHERE tenant_id = $1 ORDER BY created_at DESC
	`, sourceCols), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sources := []models.OpportunitySource{}
	for rows.Next() {
		src, err := scanSource(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan source failed: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// SourcePatch carries the user-mutable source settings. Nil fields are left
// untouched.
type SourcePatch struct {
	Status        *models.SourceStatus
	Frequency     *models.SourceFrequency
	Category      *string
	Tags          []string
	AutoDiscovery *bool
}

func (s *Store) UpdateSourceSettings(ctx context.Context, tenantID, id uuid.UUID, patch SourcePatch) (*models.OpportunitySource, error) {
	set := "updated_at = NOW()"
	args := []interface{}{tenantID, id}
	argIdx := 3

	if patch.Status != nil {
		set += fmt.Sprintf(", status = $%d", argIdx)
		args = append(args, string(*patch.Status))
		argIdx++
	}
	if patch.Frequency != nil {
		cur, err := s.GetSource(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		next := models.NextRunAt(patch.Frequency.Interval(), cur.LastRunAt, time.Now().UTC())
		set += fmt.Sprintf(", frequency = $%d, next_run_at = $%d", argIdx, argIdx+1)
		args = append(args, string(*patch.Frequency), next)
		argIdx += 2
	}
	if patch.Category != nil {
		set += fmt.Sprintf(", category = $%d", argIdx)
		args = append(args, *patch.Category)
		argIdx++
	}
	if patch.Tags != nil {
		set += fmt.Sprintf(", tags = $%d", argIdx)
		args = append(args, patch.Tags)
		argIdx++
	}
	if patch.AutoDiscovery != nil {
		set += fmt.Sprintf(", auto_discovery = $%d", argIdx)
		args = append(args, *patch.AutoDiscovery)
		argIdx++
	}

	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		UPDATE opportunity_sources SET %s
		WHERE tenant_id = $1 AND id = $2
		RETURNING %s
	`, set, sourceCols), args...)

	src, err := scanSource(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &src, nil
}

// ClaimDueSources lists and leases every due source in one statement.
// A source is due when it is active, auto-discovery is on, and next_run_at is
// null or in the past. The claimed_until lease keeps a concurrently running
// sweep from picking up the same rows; SKIP LOCKED covers the race between
// the subselect and the update.
func (s *Store) ClaimDueSources(ctx context.Context, now time.Time, lease time.Duration) ([]models.OpportunitySource, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		UPDATE opportunity_sources SET claimed_until = $2
		WHERE id IN (
			SELECT id FROM opportunity_sources
			WHERE status = 'active'
			  AND auto_discovery = true
			  AND (next_run_at IS NULL OR next_run_at <= $1)
			  AND (claimed_until IS NULL OR claimed_until < $1)
			ORDER BY next_run_at ASC NULLS FIRST
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s
	`, sourceCols), now, now.Add(lease))
	if err != nil {
		return nil, fmt.Errorf("due sources query failed: %w", err)
	}
	defer rows.Close()

	var due []models.OpportunitySource
	for rows.Next() {
		src, err := scanSource(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan due source failed: %w", err)
		}
		due = append(due, src)
	}
	return due, rows.Err()
}

// ClaimSource leases a single source for a manual run regardless of its due
// time. Returns ErrNotFound when the source is missing or already claimed.
func (s *Store) ClaimSource(ctx context.Context, tenantID, id uuid.UUID, now time.Time, lease time.Duration) (*models.OpportunitySource, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		UPDATE opportunity_sources SET claimed_until = $4
		WHERE tenant_id = $1 AND id = $2
		  AND (claimed_until IS NULL OR claimed_until < $3)
		RETURNING %s
	`, sourceCols), tenantID, id, now, now.Add(lease))

	src, err := scanSource(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &src, nil
}

// AdvanceSourceSchedule stamps last_run_at, last_success_at on success,
// recomputes next_run_at from the frequency interval, and releases the lease.
func (s *Store) AdvanceSourceSchedule(ctx context.Context, q Querier, src *models.OpportunitySource, now time.Time, success bool) error {
	next := models.NextRunAt(src.Frequency.Interval(), &now, now)
	var err error
	if success {
		_, err = q.Exec(ctx, `
			UPDATE opportunity_sources
			SET last_run_at = $2, last_success_at = $2, next_run_at = $3,
			    claimed_until = NULL, updated_at = NOW()
			WHERE id = $1
		`, src.ID, now, next)
	} else {
		_, err = q.Exec(ctx, `
			UPDATE opportunity_sources
			SET last_run_at = $2, next_run_at = $3,
			    claimed_until = NULL, updated_at = NOW()
			WHERE id = $1
		`, src.ID, now, next)
	}
	return err
}

// ReleaseSource drops a lease without advancing the schedule. Used when a
// claimed source could not be attempted at all.
func (s *Store) ReleaseSource(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE opportunity_sources SET claimed_until = NULL WHERE id = $1`, id)
	return err
}

// ---- Agents ----

const agentCols = `id, tenant_id, user_id, name, prompt, base_url, frequency, status,
	last_run_at, last_success_at, next_run_at, claimed_until, created_at, updated_at`

func scanAgent(scan func(dest ...interface{}) error) (models.OpportunityAgent, error) {
	var ag models.OpportunityAgent
	var frequency, status string
	err := scan(
		&ag.ID, &ag.TenantID, &ag.UserID, &ag.Name, &ag.Prompt, &ag.BaseURL, &frequency, &status,
		&ag.LastRunAt, &ag.LastSuccessAt, &ag.NextRunAt, &ag.ClaimedUntil, &ag.CreatedAt, &ag.UpdatedAt,
	)
	if err != nil {
		return ag, err
	}
	ag.Frequency = models.AgentFrequency(frequency)
	ag.Status = models.AgentStatus(status)
	return ag, nil
}

func (s *Store) CreateAgent(ctx context.Context, ag *models.OpportunityAgent) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO opportunity_agents (tenant_id, user_id, name, prompt, base_url, frequency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`, ag.TenantID, ag.UserID, ag.Name, ag.Prompt, ag.BaseURL, string(ag.Frequency), string(ag.Status),
	).Scan(&ag.ID, &ag.CreatedAt, &ag.UpdatedAt)
}

func (s *Store) GetAgent(ctx context.Context, tenantID, id uuid.UUID) (*models.OpportunityAgent, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM opportunity_agents WHERE tenant_id = $1 AND id = $2
	`, agentCols), tenantID, id)

	ag, err := scanAgent(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ag, nil
}

func (s *Store) ListAgents(ctx context.Context, tenantID uuid.UUID) ([]models.OpportunityAgent, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM opportunity_agents WHERE tenant_id = $1 ORDER BY created_at DESC
	`, agentCols), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	agents := []models.OpportunityAgent{}
	for rows.Next() {
		ag, err := scanAgent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan agent failed: %w", err)
		}
		agents = append(agents, ag)
	}
	return agents, rows.Err()
}

type AgentPatch struct {
	Status    *models.AgentStatus
	Frequency *models.AgentFrequency
	Prompt    *string
	Name      *string
}

func (s *Store) UpdateAgentSettings(ctx context.Context, tenantID, id uuid.UUID, patch AgentPatch) (*models.OpportunityAgent, error) {
	set := "updated_at = NOW()"
	args := []interface{}{tenantID, id}
	argIdx := 3

	if patch.Status != nil {
		set += fmt.Sprintf(", status = $%d", argIdx)
		args = append(args, string(*patch.Status))
		argIdx++
	}
	if patch.Frequency != nil {
		cur, err := s.GetAgent(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		next := models.NextRunAt(patch.Frequency.Interval(), cur.LastRunAt, time.Now().UTC())
		set += fmt.Sprintf(", frequency = $%d, next_run_at = $%d", argIdx, argIdx+1)
		args = append(args, string(*patch.Frequency), next)
		argIdx += 2
	}
	if patch.Prompt != nil {
		set += fmt.Sprintf(", prompt = $%d", argIdx)
		args = append(args, *patch.Prompt)
		argIdx++
	}
	if patch.Name != nil {
		set += fmt.Sprintf(", name = $%d", argIdx)
		args = append(args, *patch.Name)
		argIdx++
	}

	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		UPDATE opportunity_agents SET %s
		WHERE tenant_id = $1 AND id = $2
		RETURNING %s
	`, set, agentCols), args...)

	ag, err := scanAgent(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ag, nil
}

func (s *Store) ClaimDueAgents(ctx context.Context, now time.Time, lease time.Duration) ([]models.OpportunityAgent, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		UPDATE opportunity_agents SET claimed_until = $2
		WHERE id IN (
			SELECT id FROM opportunity_agents
			WHERE status = 'active'
			  AND (next_run_at IS NULL OR next_run_at <= $1)
			  AND (claimed_until IS NULL OR claimed_until < $1)
			ORDER BY next_run_at ASC NULLS FIRST
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s
	`, agentCols), now, now.Add(lease))
	if err != nil {
		return nil, fmt.Errorf("due agents query failed: %w", err)
	}
	defer rows.Close()

	var due []models.OpportunityAgent
	for rows.Next() {
		ag, err := scanAgent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan due agent failed: %w", err)
		}
		due = append(due, ag)
	}
	return due, rows.Err()
}

func (s *Store) AdvanceAgentSchedule(ctx context.Context, q Querier, ag *models.OpportunityAgent, now time.Time, success bool) error {
	next := models.NextRunAt(ag.Frequency.Interval(), &now, now)
	var err error
	if success {
		_, err = q.Exec(ctx, `
			UPDATE opportunity_agents
			SET last_run_at = $2, last_success_at = $2, next_run_at = $3,
			    claimed_until = NULL, updated_at = NOW()
			WHERE id = $1
		`, ag.ID, now, next)
	} else {
		_, err = q.Exec(ctx, `
			UPDATE opportunity_agents
			SET last_run_at = $2, next_run_at = $3,
			    claimed_until = NULL, updated_at = NOW()
			WHERE id = $1
		`, ag.ID, now, next)
	}
	return err
}

// ---- Scrape history ----

func (s *Store) InsertScrapeHistory(ctx context.Context, q Querier, h *models.OpportunityScrapeHistory) error {
	extracted, err := marshalJSONB(h.Extracted)
	if err != nil {
		return err
	}
	return q.QueryRow(ctx, `
		INSERT INTO opportunity_scrape_history
			(tenant_id, source_id, agent_id, url, url_hash, status, error_message, raw_content, extracted, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10)
		RETURNING id, started_at
	`, h.TenantID, h.SourceID, h.AgentID, h.URL, h.URLHash, string(h.Status),
		nilIfEmpty(h.ErrorMessage), nilIfEmpty(h.RawContent), extracted, h.CompletedAt,
	).Scan(&h.ID, &h.StartedAt)
}

func (s *Store) CloseScrapeHistory(ctx context.Context, q Querier, id uuid.UUID, status models.JobStatus, errMsg, rawContent string, extracted map[string]interface{}) error {
	payload, err := marshalJSONB(extracted)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		UPDATE opportunity_scrape_history
		SET status = $2, error_message = $3, raw_content = COALESCE($4, raw_content),
		    extracted = COALESCE($5::jsonb, extracted), completed_at = NOW()
		WHERE id = $1
	`, id, string(status), nilIfEmpty(errMsg), nilIfEmpty(rawContent), payload)
	return err
}

// HasScrapeHistory is the dedup lookup: true when ANY row exists for the
// (tenant, url_hash) pair, whatever its job status. A row that ended in error
// still counts as attempted so a broken URL is not hammered every tick.
func (s *Store) HasScrapeHistory(ctx context.Context, tenantID uuid.UUID, urlHash string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM opportunity_scrape_history WHERE tenant_id = $1 AND url_hash = $2)
	`, tenantID, urlHash).Scan(&exists)
	return exists, err
}

func (s *Store) ListScrapeHistory(ctx context.Context, tenantID uuid.UUID, sourceID *uuid.UUID, limit int) ([]models.OpportunityScrapeHistory, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	where := "WHERE tenant_id = $1"
	args := []interface{}{tenantID}
	if sourceID != nil {
		where += " AND source_id = $2"
		args = append(args, *sourceID)
	}
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, tenant_id, source_id, agent_id, url, url_hash, status,
		       COALESCE(error_message, ''), COALESCE(raw_content, ''), extracted, started_at, completed_at
		FROM opportunity_scrape_history %s
		ORDER BY started_at DESC
		LIMIT $%d
	`, where, len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := []models.OpportunityScrapeHistory{}
	for rows.Next() {
		var h models.OpportunityScrapeHistory
		var status string
		var extractedRaw []byte
		if err := rows.Scan(
			&h.ID, &h.TenantID, &h.SourceID, &h.AgentID, &h.URL, &h.URLHash, &status,
			&h.ErrorMessage, &h.RawContent, &extractedRaw, &h.StartedAt, &h.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan history failed: %w", err)
		}
		h.Status = models.JobStatus(status)
		if len(extractedRaw) > 0 {
			_ = json.Unmarshal(extractedRaw, &h.Extracted)
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// ReapStaleRunning closes out history rows stuck in running longer than the
// timeout. The optimistic running row is committed before any network work,
// so a crash mid-fetch leaves one behind; this is the reconciliation sweep.
func (s *Store) ReapStaleRunning(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE opportunity_scrape_history
		SET status = 'error', error_message = 'reaped: stale running attempt', completed_at = NOW()
		WHERE status = 'running' AND started_at < NOW() - $1::interval
	`, olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("reap stale running failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ---- Agent runs ----

func (s *Store) InsertAgentRun(ctx context.Context, run *models.OpportunityAgentRun) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO opportunity_agent_runs (tenant_id, agent_id, status)
		VALUES ($1, $2, $3)
		RETURNING id, started_at
	`, run.TenantID, run.AgentID, string(run.Status)).Scan(&run.ID, &run.StartedAt)
}

func (s *Store) CloseAgentRun(ctx context.Context, q Querier, id uuid.UUID, status models.RunStatus, created int, errMsg string) error {
	_, err := q.Exec(ctx, `
		UPDATE opportunity_agent_runs
		SET status = $2, opportunities_created = $3, error_message = $4, completed_at = NOW()
		WHERE id = $1
	`, id, string(status), created, nilIfEmpty(errMsg))
	return err
}

func (s *Store) ListAgentRuns(ctx context.Context, tenantID uuid.UUID, agentID *uuid.UUID, limit int) ([]models.OpportunityAgentRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	where := "WHERE tenant_id = $1"
	args := []interface{}{tenantID}
	if agentID != nil {
		where += " AND agent_id = $2"
		args = append(args, *agentID)
	}
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, tenant_id, agent_id, status, opportunities_created, COALESCE(error_message, ''), started_at, completed_at
		FROM opportunity_agent_runs %s
		ORDER BY started_at DESC
		LIMIT $%d
	`, where, len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []models.OpportunityAgentRun{}
	for rows.Next() {
		var run models.OpportunityAgentRun
		var status string
		if err := rows.Scan(&run.ID, &run.TenantID, &run.AgentID, &status, &run.OpportunitiesCreated, &run.ErrorMessage, &run.StartedAt, &run.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan agent run failed: %w", err)
		}
		run.Status = models.RunStatus(status)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ---- Temp opportunities ----

const tempCols = `id, tenant_id, source_id, history_id, reviewer_id, code, title, client_name,
	location, budget_text, deadline, documents, tags, ai_summary, ai_metadata, raw_payload,
	match_score, risk_score, strategic_fit_score, status, reviewer_notes, created_at, updated_at`

func scanTemp(scan func(dest ...interface{}) error) (models.OpportunityTemp, error) {
	var t models.OpportunityTemp
	var status string
	var metaRaw, payloadRaw []byte
	err := scan(
		&t.ID, &t.TenantID, &t.SourceID, &t.HistoryID, &t.ReviewerID, &t.Code, &t.Title, &t.ClientName,
		&t.Location, &t.BudgetText, &t.Deadline, &t.Documents, &t.Tags, &t.AISummary, &metaRaw, &payloadRaw,
		&t.MatchScore, &t.RiskScore, &t.StrategicFitScore, &status, &t.ReviewerNotes, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return t, err
	}
	t.Status = models.ReviewStatus(status)
	if len(metaRaw) > 0 {
		_ = json.Unmarshal(metaRaw, &t.AIMetadata)
	}
	if len(payloadRaw) > 0 {
		_ = json.Unmarshal(payloadRaw, &t.RawPayload)
	}
	return t, nil
}

// InsertTempOpportunity writes one candidate row. The embedding is optional;
// pass nil when the backend was unreachable.
func (s *Store) InsertTempOpportunity(ctx context.Context, q Querier, t *models.OpportunityTemp, embedding []float32) error {
	meta, err := marshalJSONB(t.AIMetadata)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(t.RawPayload)
	if err != nil {
		return fmt.Errorf("marshal raw payload: %w", err)
	}

	var vec interface{}
	if len(embedding) > 0 {
		vec = pgvector.NewVector(embedding)
	}

	return q.QueryRow(ctx, `
		INSERT INTO opportunity_temp
			(tenant_id, source_id, history_id, code, title, client_name, location, budget_text,
			 deadline, documents, tags, ai_summary, ai_metadata, raw_payload, summary_embedding, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::jsonb, $14::jsonb, $15, $16)
		RETURNING id, created_at, updated_at
	`, t.TenantID, t.SourceID, t.HistoryID, t.Code, t.Title, t.ClientName, t.Location, t.BudgetText,
		t.Deadline, t.Documents, t.Tags, t.AISummary, meta, string(payload), vec, string(t.Status),
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
}

type ListTempParams struct {
	Status   string
	SourceID *uuid.UUID
	Limit    int
	Offset   int
}

type ListTempResult struct {
	Opportunities []models.OpportunityTemp `json:"opportunities"`
	Total         int                      `json:"total"`
	Limit         int                      `json:"limit"`
	Offset        int                      `json:"offset"`
}

func (s *Store) ListTempOpportunities(ctx context.Context, tenantID uuid.UUID, params ListTempParams) (*ListTempResult, error) {
	if params.Limit <= 0 || params.Limit > 100 {
		params.Limit = 20
	}

	where := "WHERE tenant_id = $1"
	args := []interface{}{tenantID}
	argIdx := 2

	if params.Status != "" && params.Status != "all" {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, params.Status)
		argIdx++
	}
	if params.SourceID != nil {
		where += fmt.Sprintf(" AND source_id = $%d", argIdx)
		args = append(args, *params.SourceID)
		argIdx++
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM opportunity_temp "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count failed: %w", err)
	}

	args = append(args, params.Limit, params.Offset)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM opportunity_temp %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, tempCols, where, argIdx, argIdx+1), args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	temps := []models.OpportunityTemp{}
	for rows.Next() {
		t, err := scanTemp(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		temps = append(temps, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &ListTempResult{
		Opportunities: temps,
		Total:         total,
		Limit:         params.Limit,
		Offset:        params.Offset,
	}, nil
}

func (s *Store) GetTempOpportunity(ctx context.Context, tenantID, id uuid.UUID) (*models.OpportunityTemp, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM opportunity_temp WHERE tenant_id = $1 AND id = $2
	`, tempCols), tenantID, id)

	t, err := scanTemp(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// ReviewPatch is a reviewer's decision on a temp opportunity.
type ReviewPatch struct {
	Status            models.ReviewStatus
	ReviewerID        uuid.UUID
	Notes             string
	MatchScore        *int
	RiskScore         *int
	StrategicFitScore *int
}

// ReviewTempOpportunity applies a reviewer decision, enforcing the
// forward-only status machine and the [0,100] score bounds.
func (s *Store) ReviewTempOpportunity(ctx context.Context, tenantID, id uuid.UUID, patch ReviewPatch) (*models.OpportunityTemp, error) {
	if !patch.Status.Valid() {
		return nil, fmt.Errorf("unknown review status %q", patch.Status)
	}
	if err := models.ValidateScores(patch.MatchScore, patch.RiskScore, patch.StrategicFitScore); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx, `
		SELECT status FROM opportunity_temp WHERE tenant_id = $1 AND id = $2 FOR UPDATE
	`, tenantID, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if !models.CanTransition(models.ReviewStatus(current), patch.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, patch.Status)
	}

	row := tx.QueryRow(ctx, fmt.Sprintf(`
		UPDATE opportunity_temp
		SET status = $3, reviewer_id = $4,
		    reviewer_notes = COALESCE(NULLIF($5, ''), reviewer_notes),
		    match_score = COALESCE($6, match_score),
		    risk_score = COALESCE($7, risk_score),
		    strategic_fit_score = COALESCE($8, strategic_fit_score),
		    updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
		RETURNING %s
	`, tempCols), tenantID, id, string(patch.Status), patch.ReviewerID, patch.Notes,
		patch.MatchScore, patch.RiskScore, patch.StrategicFitScore)

	t, err := scanTemp(row.Scan)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &t, nil
}

// PromoteTempOpportunity marks a reviewed row as handed off to the main
// record set. Only approved or rejected rows can be promoted.
func (s *Store) PromoteTempOpportunity(ctx context.Context, tenantID, id uuid.UUID, reviewerID uuid.UUID) (*models.OpportunityTemp, error) {
	return s.ReviewTempOpportunity(ctx, tenantID, id, ReviewPatch{
		Status:     models.ReviewPromoted,
		ReviewerID: reviewerID,
	})
}

// ---- helpers ----

// nilIfEmpty returns nil for empty strings so NULL is stored in DB.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func marshalJSONB(m map[string]interface{}) (interface{}, error) {
	if len(m) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal jsonb: %w", err)
	}
	return string(payload), nil
}
