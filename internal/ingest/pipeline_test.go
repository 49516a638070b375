package ingest

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/amar74/opportunity-scout/internal/db"
	"github.com/amar74/opportunity-scout/internal/models"
	"github.com/google/uuid"
)

// testStore connects to the database named by DATABASE_URL and applies
// migrations. Tests are skipped when no database is reachable.
func testStore(t *testing.T) *db.Store {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping DB integration test")
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, dsn)
	if err != nil {
		t.Skipf("database unreachable: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.ApplyMigrations(ctx, pool); err != nil {
		t.Fatalf("migrations failed: %v", err)
	}
	return db.NewStore(pool)
}

type panicFetcher struct{}

func (panicFetcher) Fetch(ctx context.Context, targetURL string) (*FetchedDocument, error) {
	panic("fetcher blew up")
}

func TestRunSourcePanicClosesAttemptAndAdvances(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	tenant := uuid.New()

	src := &models.OpportunitySource{
		TenantID:      tenant,
		UserID:        uuid.New(),
		URL:           "https://example.gov/tenders?t=" + uuid.NewString(),
		Category:      "infrastructure",
		Frequency:     models.FrequencyDaily,
		Status:        models.SourceActive,
		Tags:          []string{},
		AutoDiscovery: true,
	}
	if err := store.CreateSource(ctx, src); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	now := time.Now().UTC()
	claimed, err := store.ClaimSource(ctx, tenant, src.ID, now, 30*time.Minute)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	p := NewPipeline(store, panicFetcher{}, nil)
	created, runErr := p.runSource(ctx, claimed)
	if runErr == nil || !strings.Contains(runErr.Error(), "panic") {
		t.Fatalf("expected recovered panic error, got %v", runErr)
	}
	if created != 0 {
		t.Errorf("created = %d", created)
	}

	// The attempt row must be closed as an error, not left running.
	hist, err := store.ListScrapeHistory(ctx, tenant, &src.ID, 10)
	if err != nil {
		t.Fatalf("list history failed: %v", err)
	}
	if len(hist) != 1 {
		t.Fatalf("expected 1 history row, got %d", len(hist))
	}
	if hist[0].Status != models.JobError || hist[0].CompletedAt == nil {
		t.Errorf("attempt not closed: %+v", hist[0])
	}
	if !strings.Contains(hist[0].ErrorMessage, "panic") {
		t.Errorf("error message = %q", hist[0].ErrorMessage)
	}

	// The schedule must advance so the source waits out its interval
	// instead of coming back every sweep once the lease lapses.
	got, err := store.GetSource(ctx, tenant, src.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.LastRunAt == nil || got.NextRunAt == nil {
		t.Fatal("schedule did not advance after panic")
	}
	if !got.NextRunAt.After(now.Add(23 * time.Hour)) {
		t.Errorf("next_run_at = %v, want about a day out", got.NextRunAt)
	}
	if got.ClaimedUntil != nil {
		t.Error("lease not released after panic")
	}
	if got.LastSuccessAt != nil {
		t.Error("panic must not count as success")
	}
}

func TestRunAgentPanicClosesRunAndAdvances(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	tenant := uuid.New()

	ag := &models.OpportunityAgent{
		TenantID:  tenant,
		UserID:    uuid.New(),
		Name:      "city tenders",
		Prompt:    "find construction tenders",
		BaseURL:   "https://example.gov/agents?t=" + uuid.NewString(),
		Frequency: models.AgentFrequency24h,
		Status:    models.AgentActive,
	}
	if err := store.CreateAgent(ctx, ag); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	p := NewPipeline(store, panicFetcher{}, nil)
	if _, runErr := p.runAgent(ctx, ag); runErr == nil || !strings.Contains(runErr.Error(), "panic") {
		t.Fatalf("expected recovered panic error, got %v", runErr)
	}

	runs, err := store.ListAgentRuns(ctx, tenant, &ag.ID, 10)
	if err != nil {
		t.Fatalf("list runs failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run row, got %d", len(runs))
	}
	if runs[0].Status != models.RunFailed || runs[0].CompletedAt == nil {
		t.Errorf("run not closed: %+v", runs[0])
	}

	got, err := store.GetAgent(ctx, tenant, ag.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.LastRunAt == nil || got.NextRunAt == nil {
		t.Fatal("schedule did not advance after panic")
	}
	if got.ClaimedUntil != nil {
		t.Error("lease not released after panic")
	}
}
