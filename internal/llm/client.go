// Package llm provides LLM client interfaces and implementations.
package llm

import (
	"context"
	"fmt"
)

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// ChatMessage represents a chat message for LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderTemplate  Provider = "template"
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderOllama    Provider = "ollama"
)

// DefaultOllamaURL is the OpenAI-compatible endpoint of a local Ollama.
const DefaultOllamaURL = "http://localhost:11434/v1"

// Options configures NewClient.
type Options struct {
	APIKey  string
	BaseURL string
	Model   string
}

// NewClient creates a new LLM client based on provider. The template provider
// has no client and returns nil, nil.
func NewClient(provider Provider, opts Options) (Client, error) {
	switch provider {
	case ProviderTemplate, "":
		return nil, nil
	case ProviderAnthropic:
		return NewAnthropicClient(opts.APIKey, opts.Model)
	case ProviderOpenAI:
		return NewOpenAIClient(opts.APIKey, opts.BaseURL, opts.Model)
	case ProviderOllama:
		baseURL := opts.BaseURL
		if baseURL == "" {
			baseURL = DefaultOllamaURL
		}
		apiKey := opts.APIKey
		if apiKey == "" {
			// Ollama ignores the key but the client requires one
			apiKey = "ollama"
		}
		model := opts.Model
		if model == "" {
			model = "llama3"
		}
		return NewOpenAIClient(apiKey, baseURL, model)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", provider)
	}
}
