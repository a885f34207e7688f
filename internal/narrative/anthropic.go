package narrative

import (
	"context"
	"fmt"
	"os"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicDefaultMaxTokens = 1024

// AnthropicLLM implements the LLM interface using the Anthropic Messages API
type AnthropicLLM struct {
	client anthropic.Client
	config LLMConfig
}

// NewAnthropicLLM creates an Anthropic-backed LLM. The key falls back to ANTHROPIC_API_KEY.
func NewAnthropicLLM(config LLMConfig) (*AnthropicLLM, error) {
	apiKey := strings.TrimSpace(config.APIKey)
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: missing API key (set ANTHROPIC_API_KEY or provide in config)", ErrInvalidConfig)
	}
	if config.Model == "" {
		return nil, fmt.Errorf("%w: missing model name", ErrInvalidConfig)
	}

	opts := []aoption.RequestOption{aoption.WithAPIKey(apiKey)}
	if config.BaseURL != "" {
		opts = append(opts, aoption.WithBaseURL(strings.TrimSpace(config.BaseURL)))
	}

	return &AnthropicLLM{client: anthropic.NewClient(opts...), config: config}, nil
}

// Generate sends a single user message and concatenates the text blocks of the reply
func (a *AnthropicLLM) Generate(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", fmt.Errorf("%w: prompt cannot be empty", ErrInvalidConfig)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.config.Model),
		MaxTokens: anthropicDefaultMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if a.config.MaxTokens > 0 {
		params.MaxTokens = int64(a.config.MaxTokens)
	}
	if a.config.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(a.config.Temperature))
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}
	text := strings.TrimSpace(b.String())

	if string(msg.StopReason) == "refusal" {
		return "", &RefusalError{Reason: "refusal", Text: text}
	}
	if text == "" {
		return "", fmt.Errorf("%w: empty response", ErrModelUnavailable)
	}
	return text, nil
}
