// Package pathstore is a client for a hierarchical HTTP key-value service.
// Keys are slash-separated paths; a prefix scan lists everything below one.
package pathstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dgallion1/parentdoc/internal/retry"
)

// Client communicates with the pathstore HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retry      retry.Policy
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Node is one stored value. Value is kept raw so callers decode it into
// their own type.
type Node struct {
	Key   string          `json:"key_path"`
	Value json.RawMessage `json:"value"`
}

type putRequest struct {
	Value  any    `json:"value"`
	Source string `json:"source,omitempty"`
}

// Put stores value at key, replacing what was there.
func (c *Client) Put(ctx context.Context, key string, value any) error {
	body, err := json.Marshal(putRequest{Value: value, Source: "parentdoc"})
	if err != nil {
		return fmt.Errorf("marshal node: %w", err)
	}
	_, err = c.do(ctx, http.MethodPut, "/kv/"+key, body, http.StatusOK, http.StatusCreated)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Get returns the node at key, or nil when it does not exist.
func (c *Client) Get(ctx context.Context, key string) (*Node, error) {
	raw, err := c.do(ctx, http.MethodGet, "/kv/"+key, nil, http.StatusOK, http.StatusNotFound)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	if raw == nil {
		return nil, nil
	}
	var node Node
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("decode node %s: %w", key, err)
	}
	return &node, nil
}

// Delete removes key and, with recursive, everything below it.
func (c *Client) Delete(ctx context.Context, key string, recursive bool) error {
	path := "/kv/" + key
	if recursive {
		path += "?children=true"
	}
	if _, err := c.do(ctx, http.MethodDelete, path, nil, http.StatusOK, http.StatusNoContent, http.StatusNotFound); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// List does a prefix scan under key.
func (c *Client) List(ctx context.Context, key string, limit int) ([]Node, error) {
	path := "/kv/" + key + "/*"
	if limit > 0 {
		path += "?limit=" + url.QueryEscape(strconv.Itoa(limit))
	}
	raw, err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", key, err)
	}
	var result struct {
		Nodes []Node `json:"nodes"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode children of %s: %w", key, err)
	}
	return result.Nodes, nil
}

// do sends one request and returns the body. A 404 listed in ok yields a
// nil body. 429 and 5xx are retried.
func (c *Client) do(ctx context.Context, method, path string, body []byte, ok ...int) ([]byte, error) {
	var out []byte
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		var r io.Reader
		if body != nil {
			r = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if rerr := retry.FromResponse(resp, raw); rerr != nil {
			return rerr
		}
		for _, code := range ok {
			if resp.StatusCode == code {
				if code == http.StatusNotFound {
					out = nil
				} else {
					out = raw
				}
				return nil
			}
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, retry.Truncate(string(raw), 1024))
	})
	return out, err
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
