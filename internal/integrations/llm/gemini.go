package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

type geminiProvider struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
}

func newGeminiProvider(ctx context.Context, cfg ProviderConfig) (*geminiProvider, error) {
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("llm: creating gemini client: %w", err)
	}
	return &geminiProvider{
		client:      client,
		model:       modelOrDefault(cfg.Model, defaultGeminiModel),
		temperature: float32(cfg.Temperature),
		maxTokens:   int32(cfg.MaxTokens),
	}, nil
}

func (p *geminiProvider) Name() string  { return ProviderGemini }
func (p *geminiProvider) Model() string { return p.model }

func (p *geminiProvider) Complete(ctx context.Context, system, user string) (string, Usage, error) {
	temp := p.temperature
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       &temp,
		MaxOutputTokens:   p.maxTokens,
	}
	contents := []*genai.Content{genai.NewContentFromText(user, genai.RoleUser)}

	res, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: gemini generate content: %w", err)
	}
	usage := Usage{Calls: 1}
	if md := res.UsageMetadata; md != nil {
		usage.InputTokens = int64(md.PromptTokenCount)
		usage.OutputTokens = int64(md.CandidatesTokenCount)
		usage.CacheReadInputTokens = int64(md.CachedContentTokenCount)
	}
	text := res.Text()
	if text == "" {
		return "", usage, fmt.Errorf("llm: gemini returned empty text")
	}
	return text, usage, nil
}
