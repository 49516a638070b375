package ingest

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/amar74/opportunity-scout/internal/ai"
)

func TestValidateCandidate(t *testing.T) {
	tests := []struct {
		name    string
		c       ai.Candidate
		wantErr bool
	}{
		{"valid with detail url", ai.Candidate{Title: "Bridge RFP", DetailURL: "https://example.gov/rfp/1"}, false},
		{"valid without detail url", ai.Candidate{Title: "Bridge RFP"}, false},
		{"missing title", ai.Candidate{DetailURL: "https://example.gov/rfp/1"}, true},
		{"whitespace title", ai.Candidate{Title: "   "}, true},
		{"relative detail url", ai.Candidate{Title: "X", DetailURL: "/rfp/1"}, true},
		{"ftp detail url", ai.Candidate{Title: "X", DetailURL: "ftp://example.gov/rfp"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCandidate(tt.c)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCandidate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestResolveURL(t *testing.T) {
	base := "https://example.gov/tenders/list"
	tests := []struct {
		in   string
		want string
	}{
		{"/tenders/42", "https://example.gov/tenders/42"},
		{"42", "https://example.gov/tenders/42"},
		{"https://other.gov/x", "https://other.gov/x"},
		{"", ""},
		{"javascript:void(0)", ""},
	}
	for _, tt := range tests {
		if got := resolveURL(base, tt.in); got != tt.want {
			t.Errorf("resolveURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtractPageText(t *testing.T) {
	html := `<html><head><script>var x = 1;</script><style>.a{}</style></head>
	<body><nav>Home | About</nav>
	<h1>Open Tenders</h1>
	<p>Road resurfacing, deadline <b>15 Sep 2026</b>.</p>
	<a href="/tenders/42">Details</a>
	<footer>Copyright</footer></body></html>`

	text, err := ExtractPageText(strings.NewReader(html))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(text, "Open Tenders") || !strings.Contains(text, "15 Sep 2026") {
		t.Errorf("missing expected content: %q", text)
	}
	if strings.Contains(text, "var x") || strings.Contains(text, "Copyright") {
		t.Errorf("script or footer content leaked: %q", text)
	}
	if !strings.Contains(text, "[/tenders/42]") {
		t.Errorf("expected link target to be kept visible: %q", text)
	}
}

func TestSanitizeHTML(t *testing.T) {
	got := SanitizeHTML(`<p>Budget: <b>USD 2M</b></p><script>alert(1)</script>`)
	if strings.Contains(got, "<") {
		t.Errorf("markup survived sanitization: %q", got)
	}
	if !strings.Contains(got, "USD 2M") {
		t.Errorf("text content lost: %q", got)
	}
}

func TestSniffDeadlineFromText(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"labeled deadline wins", "Published 1 March 2026. Submission deadline: 15 September 2026.", "15 September 2026"},
		{"first date fallback", "The workshop runs on 2026-03-01 and again later.", "2026-03-01"},
		{"no dates", "No dates here at all.", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sniffDeadlineFromText(tt.text); got != tt.want {
				t.Errorf("sniffDeadlineFromText() = %q, want %q", got, tt.want)
			}
		})
	}
}

type stubFetcher struct {
	doc *FetchedDocument
}

func (s stubFetcher) Fetch(ctx context.Context, targetURL string) (*FetchedDocument, error) {
	return s.doc, nil
}

type stubAI struct {
	completion string
}

func (s stubAI) GenerateCompletion(ctx context.Context, prompt string, jsonMode bool) (string, error) {
	return s.completion, nil
}

func (s stubAI) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, nil
}

func TestRunRejectsBinaryContentType(t *testing.T) {
	e := &Executor{
		Fetcher: stubFetcher{doc: &FetchedDocument{
			URL:         "https://example.gov/notice.pdf",
			StatusCode:  200,
			ContentType: "application/pdf",
			Body:        io.NopCloser(strings.NewReader("%PDF-1.7 binary payload")),
		}},
	}

	_, err := e.Run(context.Background(), "https://example.gov/notice.pdf", "")
	if err == nil || !strings.Contains(err.Error(), "unsupported content type") {
		t.Fatalf("expected unsupported content type error, got %v", err)
	}
}

func TestRunAcceptsPlainText(t *testing.T) {
	e := &Executor{
		Fetcher: stubFetcher{doc: &FetchedDocument{
			URL:         "https://example.gov/notices.txt",
			StatusCode:  200,
			ContentType: "text/plain; charset=utf-8",
			Body:        io.NopCloser(strings.NewReader("RFP: Road resurfacing, deadline 2026-09-01")),
		}},
		AI: stubAI{completion: `{"opportunities": []}`},
	}

	result, err := e.Run(context.Background(), "https://example.gov/notices.txt", "")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(result.PageText, "Road resurfacing") {
		t.Errorf("page text = %q", result.PageText)
	}
	if len(result.Candidates) != 0 {
		t.Errorf("expected no candidates, got %d", len(result.Candidates))
	}
}
