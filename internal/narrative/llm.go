// Package narrative turns a bounded evidence bundle into a cited answer.
// It defines a provider-agnostic LLM interface with implementations for
// OpenAI (and OpenAI-compatible endpoints), Anthropic and Gemini, plus a
// deterministic mock for tests. The synthesizer renders one grounding prompt
// and invokes the model exactly once per question.
package narrative

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrModelUnavailable covers provider errors, empty responses and timeouts
	ErrModelUnavailable = errors.New("language model unavailable")

	// ErrModelRefusal means the model declined to answer
	ErrModelRefusal = errors.New("language model refused to answer")

	ErrInvalidConfig = errors.New("invalid LLM configuration")
)

// RefusalError carries the verbatim text of a provider-signalled refusal
type RefusalError struct {
	Reason string
	Text   string
}

func (e *RefusalError) Error() string {
	if e.Reason == "" {
		return ErrModelRefusal.Error()
	}
	return fmt.Sprintf("%s: %s", ErrModelRefusal, e.Reason)
}

func (e *RefusalError) Unwrap() error { return ErrModelRefusal }

// LLM defines the interface for interacting with language models.
// Implementations must be stateless and thread-safe.
type LLM interface {
	// Generate produces text from a prompt using the configured model.
	// Refusals are reported as *RefusalError, everything else wraps ErrModelUnavailable.
	Generate(ctx context.Context, prompt string) (string, error)
}

// Provider names accepted in LLMConfig.Provider
const (
	ProviderOpenAI           = "openai"
	ProviderOpenAICompatible = "openai_compatible"
	ProviderAnthropic        = "anthropic"
	ProviderGemini           = "gemini"
	ProviderMock             = "mock"
)

// LLMConfig holds common configuration options for LLM providers.
type LLMConfig struct {
	// Provider selects the backend (openai, openai_compatible, anthropic, gemini, mock)
	Provider string

	// Model specifies the model identifier (e.g., "gpt-4o", "claude-sonnet-4-5")
	Model string

	// Temperature controls randomness (0 = provider default)
	Temperature float32

	// MaxTokens limits the response length (0 = use provider default)
	MaxTokens int

	// APIKey is the authentication key for the provider
	APIKey string

	// BaseURL overrides the provider endpoint (required for openai_compatible)
	BaseURL string
}

// DefaultTemperature keeps answers close to the evidence
const DefaultTemperature float32 = 0.2

// DefaultLLMConfig returns sensible defaults for answer synthesis.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:    ProviderOpenAI,
		Model:       "gpt-4o",
		Temperature: DefaultTemperature,
		MaxTokens:   1200,
	}
}

// Resolved returns a copy with the provider normalized and the provider's
// default model filled in when none is set.
func (c LLMConfig) Resolved() LLMConfig {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.Provider == "" {
		c.Provider = ProviderOpenAI
	}
	if c.Model == "" {
		c.Model = DefaultModel(c.Provider)
	}
	return c
}

// DefaultModel returns the model used when a provider is configured without one
func DefaultModel(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return "claude-sonnet-4-5"
	case ProviderGemini:
		return "gemini-2.5-flash"
	case ProviderMock:
		return "mock"
	default:
		return "gpt-4o"
	}
}
