package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// Fires the admin sweep endpoints on a running server. Usage:
//
//	ADMIN_SECRET=... trigger -target sources
//	ADMIN_SECRET=... trigger -target agents
//	ADMIN_SECRET=... trigger -target reap
func main() {
	target := flag.String("target", "sources", "what to trigger: sources, agents, reap")
	base := flag.String("base", "http://localhost:8080", "server base URL")
	flag.Parse()

	adminSecret := strings.TrimSpace(os.Getenv("ADMIN_SECRET"))
	if adminSecret == "" {
		fmt.Println("Missing ADMIN_SECRET environment variable")
		os.Exit(1)
	}

	var path string
	switch *target {
	case "sources":
		path = "/api/v1/admin/sweep/sources"
	case "agents":
		path = "/api/v1/admin/sweep/agents"
	case "reap":
		path = "/api/v1/admin/reap-stale"
	default:
		fmt.Printf("Unknown target %q\n", *target)
		os.Exit(1)
	}

	req, err := http.NewRequest("POST", *base+path, nil)
	if err != nil {
		fmt.Printf("Error creating request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("X-Admin-Secret", adminSecret)

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error sending request: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("Response Status: %s\n", resp.Status)
	fmt.Println(string(body))
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}
