// Package openai implements the external analysis collaborator with an
// OpenAI chat-completion model that returns a JSON score and narrative.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"fleet-insight/engine/internal/analyzer"
)

const maxTokens = 2048

const systemPreamble = "You are a fleet health analyst. Evaluate the entity described by the user " +
	"against the criteria below and respond with a JSON object of the form " +
	`{"score": <integer 0-100>, "narrative": "<short assessment>"}. ` +
	"Higher scores mean healthier."

type Client struct {
	client *openai.Client
	model  string
}

// NewClient returns an analyst backed by the OpenAI API. baseURL overrides
// the API endpoint when non-empty (e.g. a local gateway).
func NewClient(apiKey, model, baseURL string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{client: openai.NewClientWithConfig(cfg), model: model}
}

// Analyze sends the criteria, exclusions, and gathered context to the model
// and parses the JSON response. A response that cannot be parsed into a
// score and narrative is an error; the engine records it as a failed attempt.
func (c *Client) Analyze(ctx context.Context, req *analyzer.Request) (*analyzer.Result, error) {
	model := c.model
	if model == "" {
		model = openai.GPT4oMini
	}

	system := systemPreamble + "\n\nCriteria:\n" + req.CriteriaPrompt
	if req.ExclusionsBlock != "" {
		system += "\n\nTenant-authored exclusions and priorities (most specific last):\n" + req.ExclusionsBlock
	}

	chatReq := openai.ChatCompletionRequest{
		Model: model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: req.ContextBlock},
		},
	}
	// Reasoning models (o1/o3/o4/gpt-5*) take MaxCompletionTokens instead of MaxTokens.
	if strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3") || strings.HasPrefix(model, "o4") || strings.HasPrefix(model, "gpt-5") {
		chatReq.MaxCompletionTokens = maxTokens
	} else {
		chatReq.MaxTokens = maxTokens
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}
	return parseResult(resp.Choices[0].Message.Content)
}

func parseResult(content string) (*analyzer.Result, error) {
	var out struct {
		Score     *int   `json:"score"`
		Narrative string `json:"narrative"`
	}
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("malformed analyst response: %w", err)
	}
	if out.Score == nil {
		return nil, fmt.Errorf("analyst response missing score")
	}
	if *out.Score < 0 || *out.Score > 100 {
		return nil, fmt.Errorf("analyst score %d outside 0..100", *out.Score)
	}
	if out.Narrative == "" {
		return nil, fmt.Errorf("analyst response missing narrative")
	}
	return &analyzer.Result{Score: *out.Score, Narrative: out.Narrative}, nil
}
