package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/fin-analyzer/internal/domain/ai"
)

func fakeServer(t *testing.T, status int, body any, seen *openai.ChatCompletionRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAnalyze(t *testing.T) {
	req := ai.Request{Role: "Senior Financial Analyst", Goal: "g", Prompt: "p", Document: "Revenue 100", FileName: "q1.pdf"}

	t.Run("Should return the completion text", func(t *testing.T) {
		var seen openai.ChatCompletionRequest
		srv := fakeServer(t, http.StatusOK, map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": "  # Report  "}}},
		}, &seen)

		c := NewClient(Options{APIKey: "k", BaseURL: srv.URL + "/v1", Model: "gpt-4o-mini"})
		got, err := c.Analyze(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "# Report", got)
		assert.Equal(t, defaultMaxTokens, seen.MaxTokens)
		require.Len(t, seen.Messages, 2)
		assert.Contains(t, seen.Messages[0].Content, "Senior Financial Analyst")
	})

	t.Run("Should use max completion tokens for reasoning models", func(t *testing.T) {
		var seen openai.ChatCompletionRequest
		srv := fakeServer(t, http.StatusOK, map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": "ok"}}},
		}, &seen)

		c := NewClient(Options{APIKey: "k", BaseURL: srv.URL + "/v1", Model: "o3-mini", MaxTokens: 512})
		_, err := c.Analyze(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, 512, seen.MaxCompletionTokens)
		assert.Zero(t, seen.MaxTokens)
	})

	t.Run("Should map 429 to quota exceeded", func(t *testing.T) {
		srv := fakeServer(t, http.StatusTooManyRequests, map[string]any{
			"error": map[string]any{"message": "You exceeded your current quota", "type": "insufficient_quota", "code": "insufficient_quota"},
		}, nil)

		c := NewClient(Options{APIKey: "k", BaseURL: srv.URL + "/v1"})
		_, err := c.Analyze(context.Background(), req)
		assert.ErrorIs(t, err, ai.ErrQuotaExceeded)
	})

	t.Run("Should fail on an empty completion", func(t *testing.T) {
		srv := fakeServer(t, http.StatusOK, map[string]any{"choices": []map[string]any{}}, nil)
		c := NewClient(Options{APIKey: "k", BaseURL: srv.URL + "/v1"})
		_, err := c.Analyze(context.Background(), req)
		assert.ErrorIs(t, err, ai.ErrEmptyCompletion)
	})
}
