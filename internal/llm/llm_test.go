package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgallion1/parentdoc/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

func TestOpenAIClient_FallbackWithoutKey(t *testing.T) {
	c := NewOpenAIClient(OpenAIConfig{BaseURL: "http://127.0.0.1:1"})
	got, err := c.Generate(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "[Mock answer] OPENAI_API_KEY not configured. Set it in .env to get real LLM responses.", got)
}

func TestOpenAIClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk", r.Header.Get("Authorization"))

		var req openAIChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4.1-mini", req.Model)
		assert.InDelta(t, 0.2, req.Temperature, 1e-9)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "be brief", req.Messages[0].Content)
		assert.Equal(t, "question", req.Messages[1].Content)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"the answer"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "sk", BaseURL: srv.URL + "/", Temperature: 0.2})
	got, err := c.Generate(context.Background(), "be brief", "question")
	require.NoError(t, err)
	assert.Equal(t, "the answer", got)
	assert.Equal(t, 1, c.Stats().Snapshot().Count)
}

func TestOpenAIClient_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "sk", BaseURL: srv.URL, Retry: fastRetry})
	got, err := c.Generate(context.Background(), "s", "u")
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOpenAIClient_EmptyChoicesIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "sk", BaseURL: srv.URL})
	_, err := c.Generate(context.Background(), "s", "u")
	assert.Error(t, err)
}

func TestClaudeClient_FallbackWithoutKey(t *testing.T) {
	c := NewClaudeClient(ClaudeConfig{})
	got, err := c.Generate(context.Background(), "s", "u")
	require.NoError(t, err)
	assert.Equal(t, FallbackAnswer("ANTHROPIC_API_KEY"), got)
}

func TestClaudeClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sys", req.System)
		require.Len(t, req.Messages, 1)

		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"part one "},{"type":"text","text":"part two"}]}`))
	}))
	defer srv.Close()

	c := NewClaudeClient(ClaudeConfig{APIKey: "key", BaseURL: srv.URL})
	got, err := c.Generate(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "part one part two", got)
}

func TestOllamaChat_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, "llama3.2", req.Model)
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"hi"}}`))
	}))
	defer srv.Close()

	c := NewOllamaChat(srv.URL, "llama3.2", 0.2, time.Second)
	got, err := c.Generate(context.Background(), "s", "u")
	require.NoError(t, err)
	assert.Equal(t, "hi", got)
}
