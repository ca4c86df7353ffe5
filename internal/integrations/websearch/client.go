// Package websearch wraps the Google Custom Search JSON API. An empty result
// list is a normal outcome, not an error; callers degrade their context
// instead of failing.
package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"asesor-agent/internal/domain"
	"asesor-agent/internal/integrations/paramstore"
)

const (
	defaultBaseURL = "https://customsearch.googleapis.com/customsearch/v1"
	maxResults     = 3
)

// searchResponse is the minimal response shape of the Custom Search API.
type searchResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"items"`
}

// Client calls the Custom Search API. The API key and engine id are fetched
// from SSM on the first search and reused for the process lifetime.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      paramstore.Getter
	paramPrefix string

	credOnce sync.Once
	apiKey   string
	engineID string
	credErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(ps paramstore.Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("websearch: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("websearch: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolveCredentials(ctx context.Context) (string, string, error) {
	c.credOnce.Do(func() {
		c.apiKey, c.credErr = paramstore.FetchAPIKey(ctx, c.getter, c.paramPrefix+"/search-token")
		if c.credErr != nil {
			return
		}
		c.engineID, c.credErr = c.getter.GetParameter(ctx, c.paramPrefix+"/config/search_engine_id")
	})
	return c.apiKey, c.engineID, c.credErr
}

// Search runs one query and returns up to three results in API order.
func (c *Client) Search(ctx context.Context, query string) ([]domain.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("websearch: query must not be empty")
	}

	apiKey, engineID, err := c.resolveCredentials(ctx)
	if err != nil {
		return nil, err
	}

	base := strings.TrimRight(c.baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	params := url.Values{}
	params.Set("key", apiKey)
	params.Set("cx", engineID)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(maxResults))

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+params.Encode(), nil)
	if reqErr != nil {
		return nil, fmt.Errorf("websearch: create request: %w", reqErr)
	}

	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, fmt.Errorf("websearch: request failed: %w", doErr)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		// Report the endpoint without query parameters; they carry the key.
		return nil, fmt.Errorf("websearch: unexpected status %d from %s: %s", res.StatusCode, base, string(buf))
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("websearch: read response body: %w", err)
	}

	var payload searchResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return nil, fmt.Errorf("websearch: decode response: %w", decErr)
	}

	results := make([]domain.SearchResult, 0, len(payload.Items))
	for _, item := range payload.Items {
		results = append(results, domain.SearchResult{
			Title:   item.Title,
			URL:     item.Link,
			Snippet: strings.TrimSpace(strings.ReplaceAll(item.Snippet, "\n", " ")),
		})
	}
	return results, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}
