package embedding

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
	"golang.org/x/time/rate"
)

var _ Embedder = (*OpenAI)(nil)

// OpenAIConfig configures an OpenAI-compatible /embeddings endpoint.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string // default https://api.openai.com/v1
	Model      string // default text-embedding-3-small
	Dimensions int    // requested vector size; 0 = model default
	Timeout    time.Duration

	// RequestsPerSecond throttles outgoing requests; 0 disables throttling.
	RequestsPerSecond float64
	Retry             retry.Policy
}

// OpenAI calls an OpenAI-compatible embeddings API.
type OpenAI struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      retry.Policy
}

var openAIDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai embeddings: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = openAIDimensions[cfg.Model]
	}

	e := &OpenAI{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: dims,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retry:      cfg.Retry,
	}
	if cfg.RequestsPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return e, nil
}

func (e *OpenAI) Dimensions() int { return e.dimensions }
func (e *OpenAI) Model() string   { return e.model }

type openAIEmbedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Embed sends all texts in one request and orders the results by index.
func (e *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	reqBody := openAIEmbedRequest{Model: e.model, Input: texts}
	if strings.HasPrefix(e.model, "text-embedding-3") {
		reqBody.Dimensions = e.dimensions
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var out [][]float32
	err = e.retry.Do(ctx, func(ctx context.Context) error {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		vecs, err := e.post(ctx, body, len(texts))
		out = vecs
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	return out, nil
}

func (e *OpenAI) post(ctx context.Context, body []byte, n int) ([][]float32, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if rerr := retry.FromResponse(resp, respBody); rerr != nil {
		return nil, rerr
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, retry.Truncate(string(respBody), 200))
	}

	var apiResp openAIEmbedResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("%s: %s", apiResp.Error.Type, apiResp.Error.Message)
	}
	if len(apiResp.Data) != n {
		return nil, fmt.Errorf("expected %d embeddings, got %d", n, len(apiResp.Data))
	}

	out := make([][]float32, n)
	for _, d := range apiResp.Data {
		if d.Index < 0 || d.Index >= n {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}

// Close releases resources.
func (e *OpenAI) Close() {
	e.httpClient.CloseIdleConnections()
}
