package completion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func anthropicOK(t *testing.T, w http.ResponseWriter, text string) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(map[string]any{
		"content": []map[string]string{{"type": "text", "text": text}},
	})
	require.NoError(t, err)
}

func newAnthropic(t *testing.T, baseURL string) Provider {
	t.Helper()

	p, err := New(Config{
		Provider:  "anthropic",
		APIKey:    "test-key",
		BaseURL:   baseURL,
		RateLimit: 1000,
		Burst:     1000,
	})
	require.NoError(t, err)
	return p
}

func TestAnthropic_Complete(t *testing.T) {
	var gotReq anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("Anthropic-Version"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		anthropicOK(t, w, "generated section text")
	}))
	defer srv.Close()

	p := newAnthropic(t, srv.URL)

	text, err := p.Complete(context.Background(), "write the executive summary", 900)
	require.NoError(t, err)
	assert.Equal(t, "generated section text", text)

	assert.Equal(t, 900, gotReq.MaxTokens)
	require.Len(t, gotReq.Messages, 1)
	assert.Equal(t, "user", gotReq.Messages[0].Role)
	assert.Equal(t, "write the executive summary", gotReq.Messages[0].Content)
}

func TestAnthropic_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		anthropicOK(t, w, "after retry")
	}))
	defer srv.Close()

	p := newAnthropic(t, srv.URL)

	text, err := p.Complete(context.Background(), "prompt", 100)
	require.NoError(t, err)
	assert.Equal(t, "after retry", text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAnthropic_DoesNotRetryClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"type": "invalid_request_error", "message": "bad model"},
		})
	}))
	defer srv.Close()

	p := newAnthropic(t, srv.URL)

	_, err := p.Complete(context.Background(), "prompt", 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad model")
	assert.Equal(t, int32(1), calls.Load())
}

func TestAnthropic_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := New(Config{
		Provider:   "anthropic",
		APIKey:     "test-key",
		BaseURL:    srv.URL,
		RateLimit:  1000,
		Burst:      1000,
		MaxRetries: 1,
	})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), "prompt", 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, int32(2), calls.Load())
}

func TestAnthropic_EmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"content": []any{}})
	}))
	defer srv.Close()

	p := newAnthropic(t, srv.URL)

	_, err := p.Complete(context.Background(), "prompt", 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty response")
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Provider: "anthropic"})
	assert.Error(t, err, "anthropic requires an API key")

	_, err = New(Config{Provider: "groq"})
	assert.Error(t, err, "unknown provider")
}
