package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chainpulse/chainpulse/internal/metrics"
	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = openai.GPT4oMini

// OpenAIProvider generates insight text through the OpenAI chat completion
// API
type OpenAIProvider struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIProvider creates a provider backed by the OpenAI API. An empty
// model selects the default.
func NewOpenAIProvider(apiKey, model string, timeout time.Duration) *OpenAIProvider {
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIProvider{
		client:  openai.NewClient(apiKey),
		model:   model,
		timeout: timeout,
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Generate sends the prompt and parses the structured JSON response. Quota
// errors, timeouts and malformed responses all surface as errors; the
// caller skips the group this cycle.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string) (*GeneratedText, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You write concise, factual blockchain market observations. Respond only with the requested JSON object, no markdown fences.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: 0.3,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	metrics.RecordProviderRequest(p.Name(), time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%w: chat completion: %v", ErrProviderUnavailable, err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	return parseGeneratedText(resp.Choices[0].Message.Content)
}

// parseGeneratedText decodes the provider's JSON, tolerating markdown code
// fences some models wrap around JSON despite instructions
func parseGeneratedText(content string) (*GeneratedText, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var text GeneratedText
	if err := json.Unmarshal([]byte(content), &text); err != nil {
		return nil, fmt.Errorf("parse provider response: %w", err)
	}
	if text.Headline == "" || text.Summary == "" {
		return nil, fmt.Errorf("provider response missing headline or summary")
	}
	text.Headline = truncateHeadline(text.Headline)
	return &text, nil
}
