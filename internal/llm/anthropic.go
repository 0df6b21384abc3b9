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

var _ Generator = (*ClaudeClient)(nil)

// ClaudeConfig configures the Anthropic Messages API.
type ClaudeConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	Retry       retry.Policy
}

// ClaudeClient calls the Anthropic Messages API.
type ClaudeClient struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	retry       retry.Policy
	stats       *Stats
}

func NewClaudeClient(cfg ClaudeConfig) *ClaudeClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5-20250929"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &ClaudeClient{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		retry:       cfg.Retry,
		stats:       NewStats(time.Hour),
	}
}

func (c *ClaudeClient) Model() string { return c.model }
func (c *ClaudeClient) Stats() *Stats { return c.stats }

type anthropicRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate concatenates the text blocks of the reply.
func (c *ClaudeClient) Generate(ctx context.Context, system, user string) (string, error) {
	if c.apiKey == "" {
		return FallbackAnswer("ANTHROPIC_API_KEY"), nil
	}

	body, err := json.Marshal(anthropicRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		System:      system,
		Messages:    []message{{Role: "user", Content: user}},
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
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
		return "", fmt.Errorf("claude api: %w", err)
	}
	return answer, nil
}

func (c *ClaudeClient) post(ctx context.Context, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if rerr := retry.FromResponse(resp, respBody); rerr != nil {
		return "", rerr
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, retry.Truncate(string(respBody), 200))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("%s: %s", apiResp.Error.Type, apiResp.Error.Message)
	}

	var sb strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty response from claude")
	}
	return sb.String(), nil
}

// Close releases resources.
func (c *ClaudeClient) Close() {
	c.httpClient.CloseIdleConnections()
}
