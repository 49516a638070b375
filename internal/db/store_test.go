package db

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/amar74/opportunity-scout/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// testPool connects to the database named by DATABASE_URL and applies
// migrations. Tests are skipped when no database is reachable.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping DB integration test")
	}

	ctx := context.Background()
	pool, err := Connect(ctx, dsn)
	if err != nil {
		t.Skipf("database unreachable: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := ApplyMigrations(ctx, pool); err != nil {
		t.Fatalf("migrations failed: %v", err)
	}
	return pool
}

func newTestSource(tenantID uuid.UUID) *models.OpportunitySource {
	return &models.OpportunitySource{
		TenantID:      tenantID,
		UserID:        uuid.New(),
		URL:           "https://example.gov/tenders?t=" + uuid.NewString(),
		Category:      "infrastructure",
		Frequency:     models.FrequencyDaily,
		Status:        models.SourceActive,
		Tags:          []string{"test"},
		AutoDiscovery: true,
	}
}

func TestSourceLifecycle(t *testing.T) {
	pool := testPool(t)
	store := NewStore(pool)
	ctx := context.Background()
	tenant := uuid.New()

	src := newTestSource(tenant)
	if err := store.CreateSource(ctx, src); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if src.ID == uuid.Nil {
		t.Fatal("expected generated ID")
	}

	got, err := store.GetSource(ctx, tenant, src.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.URL != src.URL || got.Frequency != models.FrequencyDaily {
		t.Errorf("round trip mismatch: %+v", got)
	}

	// Other tenants must not see the row.
	if _, err := store.GetSource(ctx, uuid.New(), src.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-tenant read should return ErrNotFound, got %v", err)
	}

	paused := models.SourcePaused
	updated, err := store.UpdateSourceSettings(ctx, tenant, src.ID, SourcePatch{Status: &paused})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Status != models.SourcePaused {
		t.Errorf("status = %s", updated.Status)
	}
}

func TestClaimDueSources(t *testing.T) {
	pool := testPool(t)
	store := NewStore(pool)
	ctx := context.Background()
	tenant := uuid.New()

	src := newTestSource(tenant)
	if err := store.CreateSource(ctx, src); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	now := time.Now().UTC()
	due, err := store.ClaimDueSources(ctx, now, 30*time.Minute)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	var claimed *models.OpportunitySource
	for i := range due {
		if due[i].ID == src.ID {
			claimed = &due[i]
		}
	}
	if claimed == nil {
		t.Fatal("never-run source should be due")
	}
	if claimed.ClaimedUntil == nil || !claimed.ClaimedUntil.After(now) {
		t.Error("claim should set claimed_until in the future")
	}

	// A second sweep inside the lease window must not pick it up again.
	again, err := store.ClaimDueSources(ctx, now, 30*time.Minute)
	if err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	for _, s := range again {
		if s.ID == src.ID {
			t.Error("leased source claimed twice")
		}
	}

	// After the schedule advances the source is no longer due.
	if err := store.AdvanceSourceSchedule(ctx, pool, src, now, true); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	after, err := store.ClaimDueSources(ctx, now.Add(time.Minute), 30*time.Minute)
	if err != nil {
		t.Fatalf("third claim failed: %v", err)
	}
	for _, s := range after {
		if s.ID == src.ID {
			t.Error("advanced source should not be due until next interval")
		}
	}

	got, err := store.GetSource(ctx, tenant, src.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.LastRunAt == nil || got.LastSuccessAt == nil || got.NextRunAt == nil {
		t.Fatal("advance should stamp run timestamps")
	}
	if got.ClaimedUntil != nil {
		t.Error("advance should clear the lease")
	}
	wantNext := now.Add(24 * time.Hour)
	if got.NextRunAt.Sub(wantNext) > time.Second || wantNext.Sub(*got.NextRunAt) > time.Second {
		t.Errorf("next_run_at = %v, want ~%v", got.NextRunAt, wantNext)
	}
}

func TestUpdateFrequencyRecomputesSchedule(t *testing.T) {
	pool := testPool(t)
	store := NewStore(pool)
	ctx := context.Background()
	tenant := uuid.New()

	src := newTestSource(tenant)
	if err := store.CreateSource(ctx, src); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// A never-run source stays due immediately after a frequency change.
	weekly := models.FrequencyWeekly
	updated, err := store.UpdateSourceSettings(ctx, tenant, src.ID, SourcePatch{Frequency: &weekly})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.NextRunAt == nil {
		t.Fatal("expected next_run_at to be set")
	}
	if updated.NextRunAt.After(time.Now().Add(time.Minute)) {
		t.Errorf("never-run source should stay due, next_run_at = %v", updated.NextRunAt)
	}

	// After a run, the new frequency rebases off last_run_at.
	now := time.Now().UTC()
	if err := store.AdvanceSourceSchedule(ctx, pool, updated, now, true); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	monthly := models.FrequencyMonthly
	updated, err = store.UpdateSourceSettings(ctx, tenant, src.ID, SourcePatch{Frequency: &monthly})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.NextRunAt == nil {
		t.Fatal("expected next_run_at to be set")
	}
	want := now.Add(30 * 24 * time.Hour)
	diff := updated.NextRunAt.Sub(want)
	if diff < 0 {
		diff = -diff
	}
	if diff > time.Minute {
		t.Errorf("next_run_at = %v, want ~%v", updated.NextRunAt, want)
	}
}

func TestScrapeHistoryDedup(t *testing.T) {
	pool := testPool(t)
	store := NewStore(pool)
	ctx := context.Background()
	tenant := uuid.New()

	src := newTestSource(tenant)
	if err := store.CreateSource(ctx, src); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	hash := uuid.NewString()
	processed, err := store.HasScrapeHistory(ctx, tenant, hash)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if processed {
		t.Fatal("fresh hash should not be processed")
	}

	h := &models.OpportunityScrapeHistory{
		TenantID: tenant,
		SourceID: &src.ID,
		URL:      "https://example.gov/detail/1",
		URLHash:  hash,
		Status:   models.JobRunning,
	}
	if err := store.InsertScrapeHistory(ctx, pool, h); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	// Even a running (or later errored) row blocks reprocessing.
	processed, err = store.HasScrapeHistory(ctx, tenant, hash)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if !processed {
		t.Error("existing row should count as processed")
	}

	// Dedup is per tenant.
	processed, err = store.HasScrapeHistory(ctx, uuid.New(), hash)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if processed {
		t.Error("other tenant should not be blocked by this hash")
	}

	if err := store.CloseScrapeHistory(ctx, pool, h.ID, models.JobError, "boom", "", nil); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	list, err := store.ListScrapeHistory(ctx, tenant, &src.ID, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 1 || list[0].Status != models.JobError || list[0].ErrorMessage != "boom" {
		t.Errorf("unexpected history: %+v", list)
	}
}

func TestReapStaleRunning(t *testing.T) {
	pool := testPool(t)
	store := NewStore(pool)
	ctx := context.Background()
	tenant := uuid.New()

	h := &models.OpportunityScrapeHistory{
		TenantID: tenant,
		URL:      "https://example.gov/stuck",
		URLHash:  uuid.NewString(),
		Status:   models.JobRunning,
	}
	if err := store.InsertScrapeHistory(ctx, pool, h); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	// Fresh running rows survive the reap.
	if _, err := store.ReapStaleRunning(ctx, time.Hour); err != nil {
		t.Fatalf("reap failed: %v", err)
	}
	list, err := store.ListScrapeHistory(ctx, tenant, nil, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("list failed: %v (%d rows)", err, len(list))
	}
	if list[0].Status != models.JobRunning {
		t.Fatal("fresh row should not be reaped")
	}

	// Backdate and reap again.
	if _, err := pool.Exec(ctx, `UPDATE opportunity_scrape_history SET started_at = NOW() - INTERVAL '3 hours' WHERE id = $1`, h.ID); err != nil {
		t.Fatal(err)
	}
	reaped, err := store.ReapStaleRunning(ctx, time.Hour)
	if err != nil {
		t.Fatalf("reap failed: %v", err)
	}
	if reaped < 1 {
		t.Errorf("expected at least 1 reaped row, got %d", reaped)
	}

	list, err = store.ListScrapeHistory(ctx, tenant, nil, 10)
	if err != nil {
		t.Fatal(err)
	}
	if list[0].Status != models.JobError || list[0].CompletedAt == nil {
		t.Errorf("reaped row should be closed as error: %+v", list[0])
	}
}

func TestTempOpportunityReviewFlow(t *testing.T) {
	pool := testPool(t)
	store := NewStore(pool)
	ctx := context.Background()
	tenant := uuid.New()

	src := newTestSource(tenant)
	if err := store.CreateSource(ctx, src); err != nil {
		t.Fatalf("create source failed: %v", err)
	}
	attempt := &models.OpportunityScrapeHistory{
		TenantID: tenant,
		SourceID: &src.ID,
		URL:      src.URL,
		URLHash:  uuid.NewString(),
		Status:   models.JobSuccess,
	}
	if err := store.InsertScrapeHistory(ctx, pool, attempt); err != nil {
		t.Fatalf("insert history failed: %v", err)
	}

	temp := &models.OpportunityTemp{
		TenantID:   tenant,
		SourceID:   &src.ID,
		HistoryID:  attempt.ID,
		Code:       models.NewTempCode(),
		Title:      "Road Resurfacing RFP",
		ClientName: "City of Springfield",
		Documents:  []string{},
		Tags:       []string{"roads"},
		RawPayload: map[string]interface{}{"title": "Road Resurfacing RFP"},
		Status:     models.ReviewPending,
	}
	if err := store.InsertTempOpportunity(ctx, pool, temp, nil); err != nil {
		t.Fatalf("insert temp failed: %v", err)
	}

	result, err := store.ListTempOpportunities(ctx, tenant, ListTempParams{Status: "pending_review"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if result.Total != 1 {
		t.Fatalf("total = %d", result.Total)
	}

	// Promote straight from pending must be rejected.
	reviewer := uuid.New()
	if _, err := store.PromoteTempOpportunity(ctx, tenant, temp.ID, reviewer); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("pending -> promoted should fail, got %v", err)
	}

	score := 85
	reviewed, err := store.ReviewTempOpportunity(ctx, tenant, temp.ID, ReviewPatch{
		Status:     models.ReviewApproved,
		ReviewerID: reviewer,
		Notes:      "looks solid",
		MatchScore: &score,
	})
	if err != nil {
		t.Fatalf("review failed: %v", err)
	}
	if reviewed.Status != models.ReviewApproved || reviewed.MatchScore == nil || *reviewed.MatchScore != 85 {
		t.Errorf("unexpected review result: %+v", reviewed)
	}

	// Backward move must be rejected.
	if _, err := store.ReviewTempOpportunity(ctx, tenant, temp.ID, ReviewPatch{
		Status:     models.ReviewPending,
		ReviewerID: reviewer,
	}); err == nil {
		t.Error("approved -> pending should fail")
	}

	promoted, err := store.PromoteTempOpportunity(ctx, tenant, temp.ID, reviewer)
	if err != nil {
		t.Fatalf("promote failed: %v", err)
	}
	if promoted.Status != models.ReviewPromoted {
		t.Errorf("status = %s", promoted.Status)
	}
	if promoted.ReviewerNotes != "looks solid" {
		t.Errorf("promote should keep earlier notes, got %q", promoted.ReviewerNotes)
	}

	badScore := 150
	if _, err := store.ReviewTempOpportunity(ctx, tenant, temp.ID, ReviewPatch{
		Status:     models.ReviewApproved,
		ReviewerID: reviewer,
		RiskScore:  &badScore,
	}); err == nil {
		t.Error("out-of-range score should fail validation")
	}
}
