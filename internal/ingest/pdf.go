package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	rpdf "rsc.io/pdf"
)

const maxPDFBytes = 20 * 1024 * 1024

var deadlineLabelHints = []string{
	"deadline", "closing date", "closes", "due date", "submission", "fecha límite", "fecha de cierre",
}

var dateSnippetRegexes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b\d{1,2}/\d{1,2}/20\d{2}\b`),
	regexp.MustCompile(`(?i)\b20\d{2}-\d{2}-\d{2}\b`),
	regexp.MustCompile(`(?i)\b\d{1,2}\s+(January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\s+20\d{2}\b`),
	regexp.MustCompile(`(?i)\b(January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\s+\d{1,2},?\s+20\d{2}\b`),
}

// extractPDFText pulls the text layer out of a PDF. The parser panics on some
// malformed files, so recover and surface an error instead.
func extractPDFText(content []byte) (text string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("pdf parser panic: %v", recovered)
			text = ""
		}
	}()

	reader, err := rpdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	for pageIndex := 1; pageIndex <= reader.NumPage(); pageIndex++ {
		page := reader.Page(pageIndex)
		if page.V.IsNull() {
			continue
		}
		for _, fragment := range page.Content().Text {
			builder.WriteString(fragment.S)
			builder.WriteString(" ")
		}
		builder.WriteString("\n")
	}

	return builder.String(), nil
}

// sniffDeadlineFromText returns the first date-looking token that sits near a
// deadline label, or failing that the first date in the text. The raw token
// is returned as written; no parsing or timezone guessing.
func sniffDeadlineFromText(text string) string {
	var firstDate string
	for _, expr := range dateSnippetRegexes {
		for _, loc := range expr.FindAllStringIndex(text, -1) {
			token := strings.TrimSpace(text[loc[0]:loc[1]])
			if firstDate == "" {
				firstDate = token
			}

			start := loc[0] - 80
			if start < 0 {
				start = 0
			}
			snippet := strings.ToLower(text[start:loc[1]])
			for _, hint := range deadlineLabelHints {
				if strings.Contains(snippet, hint) {
					return token
				}
			}
		}
	}
	return firstDate
}

// SniffDocumentDeadline downloads a candidate's attached document and looks
// for a submission deadline in it. Best effort: any failure returns "".
func SniffDocumentDeadline(ctx context.Context, fetcher Fetcher, docURL string) string {
	if !strings.HasSuffix(strings.ToLower(strings.TrimSpace(docURL)), ".pdf") {
		return ""
	}

	doc, err := fetcher.Fetch(ctx, docURL)
	if err != nil {
		return ""
	}
	defer doc.Body.Close()

	content, err := io.ReadAll(io.LimitReader(doc.Body, maxPDFBytes))
	if err != nil {
		return ""
	}

	text, err := extractPDFText(content)
	if err != nil {
		return ""
	}

	return sniffDeadlineFromText(text)
}
