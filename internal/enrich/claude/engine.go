// Package claude implements the enrichment engine on the Anthropic
// Messages API.
package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/casefile/internal/enrich"
)

const maxTokens = 4096

const systemPrompt = `You are a professional SOC (Security Operations Center) analyst.
Analyze the provided incident JSON.
Return ONLY a valid JSON object with these fields:
executive_summary,
technical_summary,
attack_hypothesis,
timeline (array of {time, event}),
triage_checklist (array of strings),
containment_recommendations (array of strings),
remediation_recommendations (array of strings),
assumptions (array of strings),
confidence (one of: low, medium, high)

Do not include markdown.
Do not include explanations outside JSON.
If something is unknown, state assumptions clearly.`

// Engine calls Claude with an incident package and returns the report
// JSON it produces.
type Engine struct {
	client anthropic.Client
	model  anthropic.Model
}

// New creates a Claude engine for the given API key and model name.
func New(apiKey, model string) *Engine {
	return &Engine{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// Analyze sends the package as a single user message and extracts the
// JSON object from the response text.
func (e *Engine) Analyze(ctx context.Context, pkg *enrich.Package) (json.RawMessage, error) {
	payload, err := json.Marshal(pkg)
	if err != nil {
		return nil, fmt.Errorf("marshal package: %w", err)
	}

	msg, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     e.model,
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(string(payload))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("claude api: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	raw, err := enrich.ExtractJSON(sb.String())
	if err != nil {
		return nil, fmt.Errorf("claude response: %w", err)
	}
	return raw, nil
}
