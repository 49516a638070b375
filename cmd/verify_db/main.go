package main

import (
	"context"
	"fmt"
	"log"

	"github.com/amar74/opportunity-scout/internal/db"
)

// Quick sanity check of the pipeline tables.
func main() {
	ctx := context.Background()
	pool, err := db.Connect(ctx, "")
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	var sources, agents, attempts, running, pending int
	err = pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM opportunity_sources),
			(SELECT count(*) FROM opportunity_agents),
			(SELECT count(*) FROM opportunity_scrape_history),
			(SELECT count(*) FROM opportunity_scrape_history WHERE status = 'running'),
			(SELECT count(*) FROM opportunity_temp WHERE status = 'pending_review')
	`).Scan(&sources, &agents, &attempts, &running, &pending)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	fmt.Printf("Sources: %d\n", sources)
	fmt.Printf("Agents: %d\n", agents)
	fmt.Printf("Scrape attempts: %d\n", attempts)
	fmt.Printf("Still running: %d\n", running)
	fmt.Printf("Pending review: %d\n", pending)
}
