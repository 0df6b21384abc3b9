// Package qdrant talks to a Qdrant server over its REST API. Collections use
// cosine distance; Qdrant reports similarity, converted here to 1 - score.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dgallion1/parentdoc/internal/doctree"
	"github.com/dgallion1/parentdoc/internal/retry"
	"github.com/dgallion1/parentdoc/internal/vectorindex"
)

var _ vectorindex.Index = (*Index)(nil)

type Config struct {
	BaseURL    string
	APIKey     string
	Collection string
	Dimensions int
	Timeout    time.Duration
	Retry      retry.Policy
}

type Index struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// New checks that the collection exists and creates it when missing.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Index, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:6333"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Collection == "" {
		cfg.Collection = vectorindex.DefaultCollection
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("qdrant: dimension must be positive, got %d", cfg.Dimensions)
	}
	if logger == nil {
		logger = slog.Default()
	}
	x := &Index{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, logger: logger}
	if err := x.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return x, nil
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type scoredPoint struct {
	ID      any             `json:"id"`
	Score   *float64        `json:"score"`
	Payload json.RawMessage `json:"payload"`
}

type payload struct {
	doctree.ChildMetadata
	Text string `json:"text"`
}

func (x *Index) ensureCollection(ctx context.Context) error {
	path := "/collections/" + url.PathEscape(x.cfg.Collection)
	err := x.do(ctx, http.MethodGet, path, nil, nil)
	if err == nil {
		return nil
	}
	var he *httpError
	if !errors.As(err, &he) || he.status != http.StatusNotFound {
		return fmt.Errorf("qdrant: get collection: %w", err)
	}
	body := map[string]any{
		"vectors": map[string]any{"size": x.cfg.Dimensions, "distance": "Cosine"},
	}
	if err := x.do(ctx, http.MethodPut, path, body, nil); err != nil {
		return fmt.Errorf("qdrant: create collection: %w", err)
	}
	// Payload index so delete-by-document stays cheap.
	idx := map[string]any{"field_name": "doc_id", "field_schema": "keyword"}
	if err := x.do(ctx, http.MethodPut, path+"/index?wait=true", idx, nil); err != nil {
		x.logger.Warn("qdrant payload index not created", "error", err)
	}
	x.logger.Info("qdrant collection created", "collection", x.cfg.Collection, "dim", x.cfg.Dimensions)
	return nil
}

func (x *Index) Insert(ctx context.Context, records []vectorindex.Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]point, len(records))
	for i, r := range records {
		if len(r.Vector) != x.cfg.Dimensions {
			return fmt.Errorf("qdrant: insert %s: %w (want %d, got %d)", r.ID, vectorindex.ErrDimensionMismatch, x.cfg.Dimensions, len(r.Vector))
		}
		pl, err := toPayload(r)
		if err != nil {
			return err
		}
		points[i] = point{ID: r.ID, Vector: r.Vector, Payload: pl}
	}
	body := map[string]any{"points": points}
	if err := x.do(ctx, http.MethodPut, x.collectionPath("/points?wait=true"), body, nil); err != nil {
		return fmt.Errorf("qdrant: upsert: %w", err)
	}
	return nil
}

func toPayload(r vectorindex.Record) (map[string]any, error) {
	raw, err := json.Marshal(payload{ChildMetadata: r.Metadata, Text: r.Text})
	if err != nil {
		return nil, fmt.Errorf("qdrant: marshal payload %s: %w", r.ID, err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("qdrant: payload %s: %w", r.ID, err)
	}
	return m, nil
}

func (x *Index) Query(ctx context.Context, vector []float32, k int) ([]vectorindex.Match, error) {
	if k <= 0 {
		return nil, nil
	}
	body := map[string]any{"vector": vector, "limit": k, "with_payload": true}
	var resp struct {
		Result []scoredPoint `json:"result"`
	}
	if err := x.do(ctx, http.MethodPost, x.collectionPath("/points/search"), body, &resp); err != nil {
		return nil, fmt.Errorf("qdrant: search: %w", err)
	}

	out := make([]vectorindex.Match, 0, len(resp.Result))
	for _, p := range resp.Result {
		var pl payload
		if len(p.Payload) > 0 {
			if err := json.Unmarshal(p.Payload, &pl); err != nil {
				x.logger.Warn("skipping point with bad payload", "id", p.ID, "error", err)
				continue
			}
		}
		m := vectorindex.Match{ID: fmt.Sprint(p.ID), Text: pl.Text, Metadata: pl.ChildMetadata}
		m.Metadata.Text = pl.Text
		if p.Score != nil {
			m.Distance = vectorindex.Float(1 - *p.Score)
		}
		out = append(out, m)
	}
	return out, nil
}

func (x *Index) Count(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := x.do(ctx, http.MethodPost, x.collectionPath("/points/count"), map[string]any{"exact": true}, &resp); err != nil {
		return 0, fmt.Errorf("qdrant: count: %w", err)
	}
	return resp.Result.Count, nil
}

func (x *Index) DeleteDocument(ctx context.Context, docID string) (int, error) {
	filter := map[string]any{
		"must": []any{map[string]any{"key": "doc_id", "match": map[string]any{"value": docID}}},
	}
	var counted struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := x.do(ctx, http.MethodPost, x.collectionPath("/points/count"), map[string]any{"exact": true, "filter": filter}, &counted); err != nil {
		return 0, fmt.Errorf("qdrant: count %s: %w", docID, err)
	}
	if counted.Result.Count == 0 {
		return 0, nil
	}
	if err := x.do(ctx, http.MethodPost, x.collectionPath("/points/delete?wait=true"), map[string]any{"filter": filter}, nil); err != nil {
		return 0, fmt.Errorf("qdrant: delete %s: %w", docID, err)
	}
	return counted.Result.Count, nil
}

func (x *Index) Close() error {
	x.client.CloseIdleConnections()
	return nil
}

func (x *Index) collectionPath(suffix string) string {
	return "/collections/" + url.PathEscape(x.cfg.Collection) + suffix
}

type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string { return fmt.Sprintf("status %d: %s", e.status, e.body) }

// do sends one JSON request, retrying on 429 and 5xx. A non-2xx response that
// is not retryable comes back as *httpError.
func (x *Index) do(ctx context.Context, method, path string, in, out any) error {
	var reqBody []byte
	if in != nil {
		var err error
		if reqBody, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
	}

	return x.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		var body io.Reader
		if reqBody != nil {
			body = bytes.NewReader(reqBody)
		}
		req, err := http.NewRequestWithContext(ctx, method, x.cfg.BaseURL+path, body)
		if err != nil {
			return err
		}
		if reqBody != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if x.cfg.APIKey != "" {
			req.Header.Set("api-key", x.cfg.APIKey)
		}
		resp, err := x.client.Do(req)
		if err != nil {
			return &retry.RetryableError{Message: err.Error()}
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if rerr := retry.FromResponse(resp, raw); rerr != nil {
			return rerr
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &httpError{status: resp.StatusCode, body: retry.Truncate(string(raw), 300)}
		}
		if out != nil {
			if err := json.Unmarshal(raw, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	})
}
