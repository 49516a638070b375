package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/amar74/opportunity-scout/internal/db"
	"github.com/jedib0t/go-pretty/v6/table"
)

// Prints the most recent scrape attempts and agent runs.
func main() {
	ctx := context.Background()
	pool, err := db.Connect(ctx, "")
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	rows, err := pool.Query(ctx, `
		SELECT url, status, COALESCE(error_message, ''), started_at, completed_at
		FROM opportunity_scrape_history
		ORDER BY started_at DESC LIMIT 15
	`)
	if err != nil {
		log.Fatal(err)
	}
	defer rows.Close()

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("Scrape Attempts")
	t.AppendHeader(table.Row{"URL", "Status", "Error", "Duration", "Started At"})

	for rows.Next() {
		var url, status, errMsg string
		var startedAt time.Time
		var completedAt *time.Time

		if err := rows.Scan(&url, &status, &errMsg, &startedAt, &completedAt); err != nil {
			log.Printf("Scan error: %v", err)
			continue
		}

		duration := "Running..."
		if completedAt != nil {
			duration = completedAt.Sub(startedAt).Round(time.Second).String()
		}
		if len(url) > 60 {
			url = url[:57] + "..."
		}
		if len(errMsg) > 40 {
			errMsg = errMsg[:37] + "..."
		}

		t.AppendRow(table.Row{url, status, errMsg, duration, startedAt.Format("Jan 02 15:04:05")})
	}
	t.Render()

	runRows, err := pool.Query(ctx, `
		SELECT a.name, r.status, r.opportunities_created, COALESCE(r.error_message, ''), r.started_at, r.completed_at
		FROM opportunity_agent_runs r
		JOIN opportunity_agents a ON a.id = r.agent_id
		ORDER BY r.started_at DESC LIMIT 10
	`)
	if err != nil {
		log.Fatal(err)
	}
	defer runRows.Close()

	rt := table.NewWriter()
	rt.SetOutputMirror(os.Stdout)
	rt.SetTitle("Agent Runs")
	rt.AppendHeader(table.Row{"Agent", "Status", "Created", "Error", "Duration", "Started At"})

	for runRows.Next() {
		var name, status, errMsg string
		var created int
		var startedAt time.Time
		var completedAt *time.Time

		if err := runRows.Scan(&name, &status, &created, &errMsg, &startedAt, &completedAt); err != nil {
			log.Printf("Scan error: %v", err)
			continue
		}

		duration := "Running..."
		if completedAt != nil {
			duration = completedAt.Sub(startedAt).Round(time.Second).String()
		}
		if len(errMsg) > 40 {
			errMsg = errMsg[:37] + "..."
		}

		rt.AppendRow(table.Row{name, status, created, errMsg, duration, startedAt.Format("Jan 02 15:04:05")})
	}
	rt.Render()
}
