package ingest

import "testing"

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases host", "https://Example.GOV/Tenders", "https://example.gov/Tenders"},
		{"drops fragment", "https://example.gov/tenders#section-2", "https://example.gov/tenders"},
		{"drops default https port", "https://example.gov:443/tenders", "https://example.gov/tenders"},
		{"drops default http port", "http://example.gov:80/tenders", "http://example.gov/tenders"},
		{"bare root slash removed", "https://example.gov/", "https://example.gov"},
		{"keeps query", "https://example.gov/t?id=42", "https://example.gov/t?id=42"},
		{"trims whitespace", "  https://example.gov/t  ", "https://example.gov/t"},
		{"path case preserved", "https://example.gov/RFP/123", "https://example.gov/RFP/123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeURL(tt.in); got != tt.want {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestHashURLStable(t *testing.T) {
	a := HashURL("https://Example.gov/tenders#top")
	b := HashURL("https://example.gov/tenders")
	if a != b {
		t.Errorf("expected equivalent URLs to hash identically: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestHashURLDistinct(t *testing.T) {
	if HashURL("https://example.gov/t?id=1") == HashURL("https://example.gov/t?id=2") {
		t.Error("different query strings must not collide")
	}
}
