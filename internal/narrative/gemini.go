package narrative

import (
	"context"
	"fmt"
	"os"
	"strings"

	genai "google.golang.org/genai"
)

// GeminiLLM implements the LLM interface using the Gemini API
type GeminiLLM struct {
	client *genai.Client
	config LLMConfig
}

// NewGeminiLLM creates a Gemini-backed LLM. The key falls back to GEMINI_API_KEY.
func NewGeminiLLM(ctx context.Context, config LLMConfig) (*GeminiLLM, error) {
	apiKey := strings.TrimSpace(config.APIKey)
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: missing API key (set GEMINI_API_KEY or provide in config)", ErrInvalidConfig)
	}
	if config.Model == "" {
		return nil, fmt.Errorf("%w: missing model name", ErrInvalidConfig)
	}

	cc := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if config.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &GeminiLLM{client: client, config: config}, nil
}

// Generate sends the prompt as a single user turn
func (g *GeminiLLM) Generate(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", fmt.Errorf("%w: prompt cannot be empty", ErrInvalidConfig)
	}

	gc := &genai.GenerateContentConfig{}
	if g.config.Temperature > 0 {
		gc.Temperature = genai.Ptr(g.config.Temperature)
	}
	if g.config.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(g.config.MaxTokens)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.config.Model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}},
		gc,
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", &RefusalError{Reason: string(resp.PromptFeedback.BlockReason)}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("%w: no response generated", ErrModelUnavailable)
	}

	candidate := resp.Candidates[0]
	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(b.String())

	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", &RefusalError{Reason: string(candidate.FinishReason), Text: text}
	}
	if text == "" {
		return "", fmt.Errorf("%w: empty response", ErrModelUnavailable)
	}
	return text, nil
}
