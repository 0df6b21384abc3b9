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
)

var _ Embedder = (*Ollama)(nil)

// OllamaConfig configures the Ollama /api/embed endpoint. The default model
// all-minilm is sentence-transformers/all-MiniLM-L6-v2 (384 dimensions).
type OllamaConfig struct {
	BaseURL    string
	Model      string
	Dimensions int
	Timeout    time.Duration
	Retry      retry.Policy
}

// Ollama calls a local Ollama server for embeddings.
type Ollama struct {
	baseURL    string
	model      string
	dimensions int
	httpClient *http.Client
	retry      retry.Policy
}

func NewOllama(cfg OllamaConfig) *Ollama {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "all-minilm"
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 384
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Ollama{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retry:      cfg.Retry,
	}
}

func (e *Ollama) Dimensions() int { return e.dimensions }
func (e *Ollama) Model() string   { return e.model }

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed sends a batch of texts to Ollama and returns their embeddings.
func (e *Ollama) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	var out [][]float32
	err = e.retry.Do(ctx, func(ctx context.Context) error {
		vecs, err := e.post(ctx, body)
		out = vecs
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(out) != len(texts) {
		return nil, fmt.Errorf("ollama embed: expected %d embeddings, got %d", len(texts), len(out))
	}
	return out, nil
}

func (e *Ollama) post(ctx context.Context, body []byte) ([][]float32, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if rerr := retry.FromResponse(resp, respBody); rerr != nil {
			return nil, rerr
		}
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, retry.Truncate(string(respBody), 200))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	return result.Embeddings, nil
}

// Close releases resources.
func (e *Ollama) Close() {
	e.httpClient.CloseIdleConnections()
}
