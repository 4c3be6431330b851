package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"sessionsplit/internal/httpx"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-5-20250929"
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultGeminiModel    = "gemini-2.5-flash"
)

// Provider is one chat-completion backend. Complete sends a single
// system+user exchange and returns the text of the reply.
type Provider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, system, user string) (string, Usage, error)
}

type ProviderConfig struct {
	Provider    string
	Model       string
	APIKey      string
	Temperature float64
	MaxTokens   int
	HTTPClient  *http.Client
	// BaseURL overrides the provider endpoint; empty uses the SDK default.
	BaseURL string
}

func NewProvider(ctx context.Context, cfg ProviderConfig) (Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("llm: %s api key is required", providerName(cfg.Provider))
	}
	if cfg.MaxTokens < 1 {
		cfg.MaxTokens = 1024
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httpx.ExternalHTTPClient()
	}
	switch providerName(cfg.Provider) {
	case ProviderAnthropic:
		return newAnthropicProvider(cfg), nil
	case ProviderOpenAI:
		return newOpenAIProvider(cfg), nil
	case ProviderGemini:
		return newGeminiProvider(ctx, cfg)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

func providerName(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return ProviderAnthropic
	}
	return p
}

func modelOrDefault(model, fallback string) string {
	if strings.TrimSpace(model) == "" {
		return fallback
	}
	return model
}
