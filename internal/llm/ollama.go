package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dgallion1/parentdoc/internal/retry"
)

var _ Generator = (*OllamaChat)(nil)

// OllamaChat calls the Ollama /api/chat endpoint. It needs no credential.
type OllamaChat struct {
	baseURL     string
	model       string
	temperature float64
	httpClient  *http.Client
	retry       retry.Policy
	stats       *Stats
}

func NewOllamaChat(baseURL, model string, temperature float64, timeout time.Duration) *OllamaChat {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &OllamaChat{
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		temperature: temperature,
		httpClient:  &http.Client{Timeout: timeout},
		stats:       NewStats(time.Hour),
	}
}

func (c *OllamaChat) Model() string { return c.model }
func (c *OllamaChat) Stats() *Stats { return c.stats }

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message message `json:"message"`
}

func (c *OllamaChat) Generate(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(ollamaChatRequest{
		Model: c.model,
		Messages: []message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Options: map[string]any{"temperature": c.temperature},
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	var answer string
	err = c.retry.Do(ctx, func(ctx context.Context) error {
		start := time.Now()
		text, err := c.post(ctx, body)
		c.stats.Record(time.Since(start).Milliseconds())
		answer = text
		return err
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	return answer, nil
}

func (c *OllamaChat) post(ctx context.Context, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if rerr := retry.FromResponse(resp, respBody); rerr != nil {
			return "", rerr
		}
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, retry.Truncate(string(respBody), 200))
	}

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	return result.Message.Content, nil
}

// Close releases resources.
func (c *OllamaChat) Close() {
	c.httpClient.CloseIdleConnections()
}
