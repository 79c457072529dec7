package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/catchall/internal/interfaces"
	"github.com/ternarybob/catchall/internal/planner"
)

const draftSystemPrompt = `You write search jobs for CatchAll, a web-scale news search engine that finds
and validates events described in plain language.

Turn the user's research intent into:
- "query": one sentence naming the events to find, specific enough to validate
  (who or what, the kind of event). Do not include date ranges.
- "context": optional guidance on which details matter, or "" when none.

Reply with a single JSON object {"query": "...", "context": "..."} and nothing else.`

// draftSchema is the structured output schema for providers that support it
var draftSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"query": map[string]interface{}{
			"type":        "string",
			"description": "Plain-language description of the events to find",
		},
		"context": map[string]interface{}{
			"type":        "string",
			"description": "Optional focus for enrichment",
		},
	},
	"required": []string{"query"},
}

// QueryDrafter drafts CatchAll queries from free-text intents with an LLM
type QueryDrafter struct {
	generator Generator
	model     string
	logger    arbor.ILogger
}

var _ planner.Drafter = (*QueryDrafter)(nil)

// NewQueryDrafter creates a drafter. An empty model uses the generator's
// default provider and model.
func NewQueryDrafter(generator Generator, model string, logger arbor.ILogger) *QueryDrafter {
	return &QueryDrafter{
		generator: generator,
		model:     model,
		logger:    logger,
	}
}

// Draft asks the model for a query and context covering intent
func (d *QueryDrafter) Draft(ctx context.Context, intent string) (*planner.Draft, error) {
	intent = strings.TrimSpace(intent)
	if intent == "" {
		return nil, fmt.Errorf("intent is required")
	}

	resp, err := d.generator.GenerateContent(ctx, &ContentRequest{
		Messages: []interfaces.Message{
			{Role: "user", Content: "Research intent: " + intent},
		},
		Model:             d.model,
		SystemInstruction: draftSystemPrompt,
		OutputSchema:      draftSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to draft query: %w", err)
	}

	draft, err := parseDraft(resp.Text)
	if err != nil {
		d.logger.Warn().
			Err(err).
			Str("provider", string(resp.Provider)).
			Int("response_length", len(resp.Text)).
			Msg("Unusable draft from model")
		return nil, err
	}

	d.logger.Debug().
		Str("provider", string(resp.Provider)).
		Str("query", draft.Query).
		Msg("Drafted query from intent")
	return draft, nil
}

func parseDraft(text string) (*planner.Draft, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, err
	}

	var draft planner.Draft
	if err := json.Unmarshal([]byte(raw), &draft); err != nil {
		return nil, fmt.Errorf("failed to parse draft: %w", err)
	}

	draft.Query = strings.TrimSpace(draft.Query)
	draft.Context = strings.TrimSpace(draft.Context)
	if draft.Query == "" {
		return nil, fmt.Errorf("draft has an empty query")
	}
	return &draft, nil
}

// extractJSON returns the first JSON object in text. Markdown code fences
// and surrounding prose are skipped.
func extractJSON(text string) (string, error) {
	text = strings.TrimSpace(text)

	if start := strings.Index(text, "```"); start >= 0 {
		body := text[start+3:]
		if nl := strings.IndexByte(body, '\n'); nl >= 0 {
			body = body[nl+1:]
		}
		if end := strings.Index(body, "```"); end >= 0 {
			text = strings.TrimSpace(body[:end])
		}
	}

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object in response")
	}

	// Find the matching brace, ignoring braces inside strings
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unterminated JSON object in response")
}
