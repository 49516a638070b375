package ingest

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/amar74/opportunity-scout/internal/ai"
)

const maxPageBytes = 10 * 1024 * 1024

// Executor runs the network half of a scrape attempt: fetch the page, reduce
// it to text, and ask the model for candidates. It never touches the DB.
type Executor struct {
	Fetcher Fetcher
	AI      ai.Client
}

// AttemptResult is everything the writer needs to persist one attempt.
type AttemptResult struct {
	PageURL    string
	PageText   string
	Candidates []ai.Candidate
}

// Run fetches pageURL and extracts opportunity candidates from it. The
// steering prompt narrows extraction when the attempt belongs to an agent.
func (e *Executor) Run(ctx context.Context, pageURL, steering string) (*AttemptResult, error) {
	doc, err := e.Fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	defer doc.Body.Close()

	body := io.LimitReader(doc.Body, maxPageBytes)

	var pageText string
	contentType := strings.ToLower(doc.ContentType)
	switch {
	case strings.Contains(contentType, "html") || contentType == "":
		pageText, err = ExtractPageText(body)
		if err != nil {
			return nil, err
		}
	case strings.Contains(contentType, "text/") || strings.Contains(contentType, "json") || strings.Contains(contentType, "xml"):
		raw, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("read failed: %w", err)
		}
		pageText = SanitizeHTML(string(raw))
	default:
		// Binary payloads (PDFs, images) are useless as extractor input.
		return nil, fmt.Errorf("unsupported content type %q at %s", doc.ContentType, pageURL)
	}

	if pageText == "" {
		return nil, fmt.Errorf("no text content at %s", pageURL)
	}

	candidates, err := ai.ExtractCandidates(ctx, e.AI, pageURL, pageText, steering)
	if err != nil {
		return nil, fmt.Errorf("extraction failed: %w", err)
	}

	for i := range candidates {
		candidates[i].DetailURL = resolveURL(pageURL, candidates[i].DetailURL)
		for j, d := range candidates[i].Documents {
			candidates[i].Documents[j] = resolveURL(pageURL, d)
		}
	}

	return &AttemptResult{
		PageURL:    pageURL,
		PageText:   pageText,
		Candidates: candidates,
	}, nil
}

// SniffMissingDeadlines fills empty candidate deadlines from attached PDF
// documents. Best effort; a candidate without a findable date stays empty.
func (e *Executor) SniffMissingDeadlines(ctx context.Context, candidates []ai.Candidate) {
	for i := range candidates {
		if candidates[i].Deadline != "" || len(candidates[i].Documents) == 0 {
			continue
		}
		for _, docURL := range candidates[i].Documents {
			if found := SniffDocumentDeadline(ctx, e.Fetcher, docURL); found != "" {
				candidates[i].Deadline = found
				break
			}
		}
	}
}

// ValidateCandidate decides whether one extracted candidate is well-formed
// enough to persist. A malformed candidate is skipped on its own; it never
// fails the whole attempt.
func ValidateCandidate(c ai.Candidate) error {
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("missing title")
	}
	if c.DetailURL != "" {
		u, err := url.Parse(c.DetailURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("bad detail_url %q", c.DetailURL)
		}
	}
	return nil
}

// resolveURL makes a candidate link absolute against the page it came from.
func resolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	resolved := baseURL.ResolveReference(refURL)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}
