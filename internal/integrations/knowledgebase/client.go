// Package knowledgebase queries the retrieval sidecar that serves the indexed
// document corpus. The sidecar owns embedding and vector search; this client
// only sends text and receives ranked fragments.
package knowledgebase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"asesor-agent/internal/domain"
)

// queryRequest is the sidecar's query shape.
type queryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// queryResponse is the sidecar's result shape.
type queryResponse struct {
	Documents []struct {
		Text   string `json:"text"`
		Source string `json:"source"`
	} `json:"documents"`
}

// Client talks to one knowledge-base endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("knowledgebase: base URL must not be empty")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Query returns the k most relevant fragments for text, most relevant first.
// An empty list means the corpus had nothing relevant; that is not an error.
func (c *Client) Query(ctx context.Context, text string, k int) ([]domain.KnowledgeChunk, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("knowledgebase: query text must not be empty")
	}
	if k <= 0 {
		k = 3
	}

	body, err := json.Marshal(queryRequest{Query: text, TopK: k})
	if err != nil {
		return nil, fmt.Errorf("knowledgebase: marshal request: %w", err)
	}

	reqURL := c.baseURL + "/query"
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if reqErr != nil {
		return nil, fmt.Errorf("knowledgebase: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")

	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, fmt.Errorf("knowledgebase: request failed: %w", doErr)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, fmt.Errorf("knowledgebase: unexpected status %d from %s: %s", res.StatusCode, reqURL, string(buf))
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("knowledgebase: read response body: %w", err)
	}

	var payload queryResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return nil, fmt.Errorf("knowledgebase: decode response: %w", decErr)
	}

	chunks := make([]domain.KnowledgeChunk, 0, len(payload.Documents))
	for _, doc := range payload.Documents {
		chunks = append(chunks, domain.KnowledgeChunk{Text: doc.Text, Source: doc.Source})
	}
	return chunks, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 15 * time.Second}
}
