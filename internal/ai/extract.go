package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
)

// Candidate is one opportunity the model found on a listing page.
type Candidate struct {
	Title      string                 `json:"title"`
	ClientName string                 `json:"client_name"`
	Location   string                 `json:"location"`
	BudgetText string                 `json:"budget_text"`
	Deadline   string                 `json:"deadline"`
	DetailURL  string                 `json:"detail_url"`
	Summary    string                 `json:"summary"`
	Tags       []string               `json:"tags"`
	Documents  []string               `json:"documents"`
	Raw        map[string]interface{} `json:"-"`
}

type candidateList struct {
	Opportunities []Candidate `json:"opportunities"`
}

const maxPageText = 12000

// ExtractCandidates asks the model to pull opportunity listings out of page
// text. The steering prompt, when non-empty, comes from an agent definition
// and narrows what counts as relevant.
func ExtractCandidates(ctx context.Context, client Client, pageURL, pageText, steering string) ([]Candidate, error) {
	if len(pageText) > maxPageText {
		pageText = pageText[:maxPageText]
	}

	var sb strings.Builder
	sb.WriteString(`You are an analyst scanning procurement and tender pages for business opportunities. Extract every distinct opportunity from the following page text into JSON.

`)
	if steering != "" {
		sb.WriteString("Focus: " + steering + "\n\n")
	}
	fmt.Fprintf(&sb, `Page URL: %s
Page text:
%s

Instructions:
1. One entry per distinct opportunity (tender, RFP, grant, contract notice).
2. detail_url must be the absolute URL of the opportunity's own page when one is linked; resolve relative links against the page URL; empty string if none.
3. deadline is the submission deadline as written in the text; empty string if not stated.
4. budget_text is the budget or contract value exactly as written; do not convert currencies.
5. documents lists URLs of attached files (PDF, DOCX) when present.
6. tags: 1-3 short topical labels.
7. summary: 1-2 neutral sentences.
8. Skip navigation, ads, and already-awarded notices.

JSON Schema:
{
  "opportunities": [
    {
      "title": "string",
      "client_name": "string",
      "location": "string",
      "budget_text": "string",
      "deadline": "string",
      "detail_url": "string",
      "summary": "string",
      "tags": ["string"],
      "documents": ["string"]
    }
  ]
}

Respond ONLY with the JSON object.`, pageURL, pageText)
	prompt := sb.String()

	resp, err := client.GenerateCompletion(ctx, prompt, true)
	if err == nil {
		if out, parseErr := ParseCandidateResponse(resp); parseErr == nil {
			return out, nil
		} else {
			log.Printf("JSON mode failed parsing: %v. Retrying with text mode...", parseErr)
		}
	} else {
		log.Printf("JSON mode generation failed: %v. Retrying with text mode...", err)
	}

	resp, err = client.GenerateCompletion(ctx, prompt, false)
	if err != nil {
		return nil, err
	}

	out, err := ParseCandidateResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse LLM JSON after retry: %w", err)
	}
	return out, nil
}

// ParseCandidateResponse recovers the candidate list from raw model output.
// Handles markdown fences and leading chatter, and accepts either the
// {"opportunities": [...]} envelope or a bare top-level array.
func ParseCandidateResponse(resp string) ([]Candidate, error) {
	cleaned := strings.TrimSpace(resp)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if strings.HasPrefix(cleaned, "[") {
		var list []Candidate
		if err := json.Unmarshal([]byte(cleaned), &list); err != nil {
			return nil, err
		}
		return attachRaw(list), nil
	}

	if jsonStr, ok := extractFirstJSONObject(cleaned); ok {
		cleaned = jsonStr
	}

	var envelope candidateList
	if err := json.Unmarshal([]byte(cleaned), &envelope); err != nil {
		return nil, err
	}
	return attachRaw(envelope.Opportunities), nil
}

// attachRaw stores each candidate's own JSON form so the writer can persist
// it verbatim as the raw payload.
func attachRaw(list []Candidate) []Candidate {
	for i := range list {
		data, err := json.Marshal(list[i])
		if err != nil {
			continue
		}
		var raw map[string]interface{}
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}
		list[i].Raw = raw
	}
	return list
}

// extractFirstJSONObject finds the first outermost balanced {...}
func extractFirstJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		char := s[i]

		if escaped {
			escaped = false
			continue
		}

		if char == '\\' {
			escaped = true
			continue
		}

		if char == '"' {
			inString = !inString
			continue
		}

		if !inString {
			if char == '{' {
				depth++
			} else if char == '}' {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}

	return "", false
}
