package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

type openAIProvider struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int64
}

func newOpenAIProvider(cfg ProviderConfig) *openAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(cfg.HTTPClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &openAIProvider{
		client:      openai.NewClient(opts...),
		model:       modelOrDefault(cfg.Model, defaultOpenAIModel),
		temperature: cfg.Temperature,
		maxTokens:   int64(cfg.MaxTokens),
	}
}

func (p *openAIProvider) Name() string  { return ProviderOpenAI }
func (p *openAIProvider) Model() string { return p.model }

func (p *openAIProvider) Complete(ctx context.Context, system, user string) (string, Usage, error) {
	resp, err := p.client.Responses.New(ctx, responses.ResponseNewParams{
		Model:           p.model,
		MaxOutputTokens: openai.Int(p.maxTokens),
		Temperature:     openai.Float(p.temperature),
		Instructions:    openai.String(system),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(user, responses.EasyInputMessageRoleUser),
			},
		},
	})
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: openai api error: %w", err)
	}
	usage := Usage{
		Calls:                1,
		InputTokens:          resp.Usage.InputTokens,
		OutputTokens:         resp.Usage.OutputTokens,
		CacheReadInputTokens: resp.Usage.InputTokensDetails.CachedTokens,
	}
	text := resp.OutputText()
	if text == "" {
		return "", usage, fmt.Errorf("llm: no text content in openai response")
	}
	return text, usage, nil
}
