package narrative

import (
	"context"
	"fmt"
)

// NewLLM builds the backend named by config.Provider. An empty provider means openai.
func NewLLM(ctx context.Context, config LLMConfig) (LLM, error) {
	config = config.Resolved()

	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAILLM(config)
	case ProviderOpenAICompatible:
		if config.BaseURL == "" {
			return nil, fmt.Errorf("%w: openai_compatible requires a base URL", ErrInvalidConfig)
		}
		return NewOpenAILLM(config)
	case ProviderAnthropic:
		return NewAnthropicLLM(config)
	case ProviderGemini:
		return NewGeminiLLM(ctx, config)
	case ProviderMock:
		return NewMockLLM(""), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, config.Provider)
	}
}

var (
	_ LLM = (*OpenAILLM)(nil)
	_ LLM = (*AnthropicLLM)(nil)
	_ LLM = (*GeminiLLM)(nil)
	_ LLM = (*MockLLM)(nil)
)
