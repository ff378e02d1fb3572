package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/scribe-rag/scribe/internal/errors"
	"github.com/scribe-rag/scribe/internal/llm"
)

// Enrichment knobs. Only the head of the document goes to the gateway;
// summaries and tags do not need the full text.
const (
	enrichMaxInput   = 8000
	summaryMaxTokens = 200
	tagsMaxTokens    = 150
	maxTags          = 10
	maxTagLength     = 50

	summarySystemPrompt = "You summarize documents. Reply with a 2-3 sentence summary of the " +
		"document content only, no preamble."
	tagsSystemPrompt = "You label documents. Reply with a JSON array of at most 10 short " +
		"lowercase topic tags, nothing else."
)

// enricher produces optional document summary and tags via the LLM.
// Enrichment failures never fail an ingest.
type enricher struct {
	llm    llm.Client
	logger *slog.Logger
}

func newEnricher(client llm.Client, logger *slog.Logger) *enricher {
	return &enricher{llm: client, logger: logger.With("component", "enricher")}
}

// summarize returns a short summary of the document head.
func (e *enricher) summarize(ctx context.Context, content string) (string, error) {
	result, err := e.llm.Complete(ctx, llm.CompletionRequest{
		Prompt:       "Summarize this document:\n\n" + head(content, enrichMaxInput),
		SystemPrompt: summarySystemPrompt,
		MaxTokens:    summaryMaxTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Content), nil
}

// generateTags returns validated topic tags for the document head.
func (e *enricher) generateTags(ctx context.Context, content string) ([]string, error) {
	result, err := e.llm.Complete(ctx, llm.CompletionRequest{
		Prompt:       "Generate topic tags for this document:\n\n" + head(content, enrichMaxInput),
		SystemPrompt: tagsSystemPrompt,
		MaxTokens:    tagsMaxTokens,
	})
	if err != nil {
		return nil, err
	}
	return parseTags(result.Content)
}

// parseTags extracts and validates a JSON tag array from model output,
// tolerating prose or code fences around it.
func parseTags(raw string) ([]string, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, errors.Upstream("tag response contains no JSON array", nil)
	}

	var tags []string
	if err := json.Unmarshal([]byte(raw[start:end+1]), &tags); err != nil {
		return nil, errors.Upstream("tag response is not a string array", err)
	}

	valid := make([]string, 0, maxTags)
	seen := make(map[string]bool)
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || len(t) > maxTagLength || seen[t] {
			continue
		}
		seen[t] = true
		valid = append(valid, t)
		if len(valid) == maxTags {
			break
		}
	}
	return valid, nil
}

// head returns the first n bytes of s without splitting a UTF-8 sequence.
func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
