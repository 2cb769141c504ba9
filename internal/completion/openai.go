package completion

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"
)

// openAIProvider implements Provider over langchaingo's OpenAI client.
type openAIProvider struct {
	llm     *openai.LLM
	limiter *rate.Limiter
}

func newOpenAIProvider(cfg Config) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key required")
	}

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}

	limit := rate.Limit(defaultRateLimit)
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := defaultBurst
	if cfg.Burst > 0 {
		burst = cfg.Burst
	}

	return &openAIProvider{
		llm:     llm,
		limiter: rate.NewLimiter(limit, burst),
	}, nil
}

func (o *openAIProvider) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	text, err := llms.GenerateFromSinglePrompt(ctx, o.llm, prompt,
		llms.WithMaxTokens(maxTokens),
		llms.WithTemperature(0.7),
	)
	if err != nil {
		return "", fmt.Errorf("completion failed: %w", err)
	}
	if text == "" {
		return "", fmt.Errorf("empty response from API")
	}
	return text, nil
}

var _ Provider = (*openAIProvider)(nil)
