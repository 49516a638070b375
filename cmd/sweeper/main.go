package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/amar74/opportunity-scout/internal/ai"
	"github.com/amar74/opportunity-scout/internal/config"
	"github.com/amar74/opportunity-scout/internal/db"
	"github.com/amar74/opportunity-scout/internal/ingest"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// The sweeper runs the scheduled scrapes outside the API server. With -once
// it does a single pass and exits; otherwise it stays up on a cron spec.
func main() {
	once := flag.Bool("once", false, "run a single sweep and exit")
	cronSpec := flag.String("cron", "*/15 * * * *", "cron schedule for recurring sweeps")
	flag.Parse()

	if err := godotenv.Load(); err == nil {
		log.Print("Loaded environment from .env")
	}

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	store := db.NewStore(pool)
	aiClient := ai.NewOllamaClient(cfg.Ollama.Host, cfg.Ollama.EmbedModel, cfg.Ollama.GenModel)

	var fetcher ingest.Fetcher = ingest.NewRateLimitedFetcher(cfg.Fetch)
	if cfg.UseColly {
		fetcher = ingest.CollyFetcherWithConfig(cfg.Fetch)
	}

	pipeline := ingest.NewPipeline(store, fetcher, aiClient)
	if cfg.LeaseMinutes > 0 {
		pipeline.Lease = cfg.Lease()
	}
	if cfg.StaleAfterHours > 0 {
		pipeline.StaleAfter = cfg.StaleAfter()
	}

	if *once {
		sweep(ctx, pipeline)
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(*cronSpec, func() {
		sweep(context.Background(), pipeline)
	}); err != nil {
		log.Fatalf("Invalid cron spec %q: %v", *cronSpec, err)
	}
	c.Start()
	log.Printf("Sweeper running on schedule %q", *cronSpec)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Print("Shutting down...")
	<-c.Stop().Done()
}

func sweep(ctx context.Context, pipeline *ingest.Pipeline) {
	if _, err := pipeline.ReapStaleAttempts(ctx); err != nil {
		log.Printf("Reap failed: %v", err)
	}

	summary, err := pipeline.RunScheduledScrapes(ctx)
	if err != nil {
		log.Printf("Source sweep failed: %v", err)
	} else {
		log.Printf("Source sweep: processed=%d created=%d errors=%d",
			summary.Processed, summary.OpportunitiesCreated, len(summary.Errors))
	}

	summary, err = pipeline.RunScheduledAgents(ctx)
	if err != nil {
		log.Printf("Agent sweep failed: %v", err)
	} else {
		log.Printf("Agent sweep: processed=%d created=%d errors=%d",
			summary.Processed, summary.OpportunitiesCreated, len(summary.Errors))
	}
}
