package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"sessionsplit/internal/segment"
)

type ClassifierOptions struct {
	// Examples is the few-shot pool; nil means DefaultExamples.
	Examples []Example
	// ExampleCount caps the examples per prompt. When the pool is larger the
	// most similar ones are picked per window.
	ExampleCount int
	Sampler      *TranscriptSampler
	Logger       *zap.Logger
}

// Classifier is the LLM-backed boundary oracle. It is safe for concurrent use
// by several channel workers.
type Classifier struct {
	provider     Provider
	examples     []Example
	index        *tfidfIndex
	exampleCount int
	sampler      *TranscriptSampler
	logger       *zap.Logger
	usage        usageMeter
}

var _ segment.Oracle = (*Classifier)(nil)

func NewClassifier(provider Provider, opts ClassifierOptions) *Classifier {
	examples := opts.Examples
	if examples == nil {
		examples = DefaultExamples()
	}
	count := opts.ExampleCount
	if count < 1 {
		count = 5
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Classifier{
		provider:     provider,
		examples:     examples,
		exampleCount: count,
		sampler:      opts.Sampler,
		logger:       logger,
	}
	if len(examples) > count {
		texts := make([]string, len(examples))
		for i, ex := range examples {
			texts[i] = ex.text()
		}
		c.index = buildTFIDFIndex(texts)
	}
	return c
}

func (c *Classifier) Provider() Provider {
	return c.provider
}

// Usage returns the token usage accumulated so far.
func (c *Classifier) Usage() Usage {
	return c.usage.snapshot()
}

func (c *Classifier) selectExamples(queries []string) []Example {
	if c.index == nil {
		return c.examples
	}
	picked := c.index.topKForBatch(queries, c.exampleCount)
	seen := make(map[int]bool, len(picked))
	for _, i := range picked {
		seen[i] = true
	}
	// Top up in file order when similarity finds too few.
	for i := 0; len(picked) < c.exampleCount && i < len(c.examples); i++ {
		if !seen[i] {
			picked = append(picked, i)
		}
	}
	out := make([]Example, len(picked))
	for i, idx := range picked {
		out[i] = c.examples[idx]
	}
	return out
}

func (c *Classifier) complete(ctx context.Context, id, system, user string) (string, error) {
	if path, err := c.sampler.Maybe(id, system, user); err != nil {
		c.logger.Warn("prompt transcript not saved", zap.String("id", id), zap.Error(err))
	} else if path != "" {
		c.logger.Debug("prompt transcript saved", zap.String("path", path))
	}

	text, usage, err := c.provider.Complete(ctx, system, user)
	c.usage.add(usage)
	if err != nil {
		return "", err
	}
	c.logger.Debug("llm response",
		zap.String("provider", c.provider.Name()),
		zap.String("model", c.provider.Model()),
		zap.Int("size", len(text)),
		zap.Int64("tokens_in", usage.InputTokens),
		zap.Int64("tokens_out", usage.OutputTokens))
	return text, nil
}

func (c *Classifier) ClassifyBatch(ctx context.Context, w segment.Window) ([]int, error) {
	if len(w.Messages) == 0 {
		return nil, nil
	}
	queries := make([]string, len(w.Messages))
	for i, m := range w.Messages {
		queries[i] = m.Text
	}
	system, user := buildBatchPrompts(w, c.selectExamples(queries))

	id := fmt.Sprintf("%s_%d", w.ChannelID, w.Start)
	text, err := c.complete(ctx, id, system, user)
	if err != nil {
		return nil, err
	}
	return parseBatchResponse(text)
}

func (c *Classifier) ClassifySingle(ctx context.Context, cw segment.ContextWindow) (bool, error) {
	if len(cw.Messages) == 0 {
		return false, fmt.Errorf("llm: empty context window")
	}
	current := cw.Current()
	system, user := buildSinglePrompts(cw, c.selectExamples([]string{current.Text}))

	text, err := c.complete(ctx, current.ID, system, user)
	if err != nil {
		return false, err
	}
	return parseSingleResponse(text)
}
