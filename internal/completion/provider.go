// Package completion wraps the external text-generation service behind a
// narrow Provider interface.
//
// The orchestrator only sees Complete(ctx, prompt, maxTokens); swapping the
// backing service (Anthropic, OpenAI) is a configuration change.
package completion

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	defaultAnthropicModel   = "claude-sonnet-4-20250514"
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultOpenAIModel      = "gpt-4o"

	defaultTimeout     = 120 * time.Second
	defaultRateLimit   = 2.0 // requests per second
	defaultBurst       = 4
	defaultMaxRetries  = 3
	defaultBaseBackoff = 1 * time.Second
)

// Provider generates text from an instruction. Implementations must respect
// the context deadline and must be safe for concurrent use.
type Provider interface {
	// Complete returns generated text for the prompt, bounded by maxTokens.
	// A non-nil error means the section call failed; partial text is never
	// returned alongside an error.
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Config configures a completion provider.
type Config struct {
	// Provider selects the backend: "anthropic" or "openai".
	Provider string

	APIKey  string
	Model   string
	BaseURL string

	// Timeout bounds a single HTTP round-trip. The orchestrator layers its
	// own per-section deadline on top.
	Timeout time.Duration

	// RateLimit is requests per second; Burst the limiter burst size.
	RateLimit float64
	Burst     int

	MaxRetries int
}

// New creates a Provider from config.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return newAnthropicProvider(cfg)
	case "openai":
		return newOpenAIProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown completion provider: %q", cfg.Provider)
	}
}

// retryableError marks errors worth retrying (transport failures, 429, 5xx).
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
