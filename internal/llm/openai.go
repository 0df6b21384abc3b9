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

var _ Generator = (*OpenAIClient)(nil)

// OpenAIConfig configures an OpenAI-compatible chat completions endpoint.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
	Retry       retry.Policy
}

// OpenAIClient calls /chat/completions.
type OpenAIClient struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	httpClient  *http.Client
	retry       retry.Policy
	stats       *Stats
}

func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4.1-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &OpenAIClient{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		retry:       cfg.Retry,
		stats:       NewStats(time.Hour),
	}
}

func (c *OpenAIClient) Model() string { return c.model }
func (c *OpenAIClient) Stats() *Stats { return c.stats }

type openAIChatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate returns the first choice's content.
func (c *OpenAIClient) Generate(ctx context.Context, system, user string) (string, error) {
	if c.apiKey == "" {
		return FallbackAnswer("OPENAI_API_KEY"), nil
	}

	body, err := json.Marshal(openAIChatRequest{
		Model: c.model,
		Messages: []message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
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
		return "", fmt.Errorf("openai chat: %w", err)
	}
	return answer, nil
}

func (c *OpenAIClient) post(ctx context.Context, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

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

	var apiResp openAIChatResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("%s: %s", apiResp.Error.Type, apiResp.Error.Message)
	}
	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("empty response")
	}
	return apiResp.Choices[0].Message.Content, nil
}

// Close releases resources.
func (c *OpenAIClient) Close() {
	c.httpClient.CloseIdleConnections()
}
