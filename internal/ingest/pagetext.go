package ingest

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// ExtractPageText reduces an HTML document to the visible text the model
// should see. Script, style, and navigation chrome are stripped first.
func ExtractPageText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("html parse failed: %w", err)
	}

	doc.Find("script, style, noscript, iframe, svg, nav, footer, header").Remove()

	// Keep link targets visible so the model can emit detail URLs.
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			return
		}
		sel.AppendHtml(" [" + href + "]")
	})

	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}

	return normalizeSpace(body.Text()), nil
}

// SanitizeHTML strips all markup, leaving plain text. Used before raw page
// content is persisted so stored payloads never carry live HTML.
func SanitizeHTML(raw string) string {
	return normalizeSpace(strictPolicy.Sanitize(raw))
}

// normalizeSpace collapses runs of whitespace into single spaces.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
