// Package ai wraps the external reasoning collaborators: organization-name
// normalization for ambiguous inputs and answer generation. Both are
// best-effort; callers always carry a deterministic fallback and treat any
// error here as a recoverable event.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"vouch/api/internal/cache"
)

const (
	normalizeMaxTokens = 512
	answerMaxTokens    = 1024
)

// Client calls the Anthropic API with a per-call timeout.
type Client struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
}

func New(apiKey, model string, timeout time.Duration) *Client {
	return &Client{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		timeout: timeout,
	}
}

// NormalizeOrganizationName asks the model for the best-effort canonical
// identity behind a raw spelling or acronym.
func (c *Client) NormalizeOrganizationName(ctx context.Context, raw string) (cache.NormalizationResult, error) {
	prompt := fmt.Sprintf(`You resolve organization names for a review platform.
Given the raw user input below, identify the organization it most likely refers to.

Raw input: %q

Respond with ONLY a JSON object, no prose, with these keys:
{"normalizedName": "lowercase matching form without organizational type words",
 "displayName": "full official name",
 "location": "city if known, else empty string",
 "country": "country if known, else empty string"}`, raw)

	text, err := c.complete(ctx, prompt, normalizeMaxTokens)
	if err != nil {
		return cache.NormalizationResult{}, err
	}

	var parsed struct {
		NormalizedName string `json:"normalizedName"`
		DisplayName    string `json:"displayName"`
		Location       string `json:"location"`
		Country        string `json:"country"`
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), &parsed); err != nil {
		return cache.NormalizationResult{}, fmt.Errorf("parse normalization response: %w", err)
	}
	if strings.TrimSpace(parsed.NormalizedName) == "" && strings.TrimSpace(parsed.DisplayName) == "" {
		return cache.NormalizationResult{}, fmt.Errorf("empty normalization response")
	}

	return cache.NormalizationResult{
		Input:          raw,
		NormalizedName: strings.TrimSpace(parsed.NormalizedName),
		DisplayName:    strings.TrimSpace(parsed.DisplayName),
		Location:       strings.TrimSpace(parsed.Location),
		Country:        strings.TrimSpace(parsed.Country),
	}, nil
}

// GenerateAnswer produces the user-facing answer text from an already
// compacted prompt (digest plus stats, or a ranked candidate list; never the
// raw review corpus).
func (c *Client) GenerateAnswer(ctx context.Context, prompt string) (string, error) {
	text, err := c.complete(ctx, prompt, answerMaxTokens)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("empty answer response")
	}
	return text, nil
}

func (c *Client) complete(ctx context.Context, prompt string, maxTokens int64) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	response, err := c.client.Messages.New(callCtx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}

// extractJSON strips markdown fences and surrounding prose so a strict JSON
// object survives models that decorate their output.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			return text[start : end+1]
		}
	}
	return text
}
