// Package identitytoolkit verifies Firebase-issued ID tokens through the
// Identity Toolkit accounts:lookup endpoint.
package identitytoolkit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"asesor-agent/internal/identity"
	"asesor-agent/internal/integrations/paramstore"
)

const defaultBaseURL = "https://identitytoolkit.googleapis.com/v1"

type lookupRequest struct {
	IDToken string `json:"idToken"`
}

type lookupResponse struct {
	Users []struct {
		LocalID string `json:"localId"`
		Email   string `json:"email"`
	} `json:"users"`
}

// Client implements identity.TokenVerifier against the Identity Toolkit REST
// API. The project API key is fetched from SSM on first use.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      paramstore.Getter
	paramPrefix string

	keyOnce sync.Once
	apiKey  string
	keyErr  error
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
		return nil, errors.New("identitytoolkit: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("identitytoolkit: parameter prefix must not be empty")
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

func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyOnce.Do(func() {
		c.apiKey, c.keyErr = paramstore.FetchAPIKey(ctx, c.getter, c.paramPrefix+"/identity-token")
	})
	return c.apiKey, c.keyErr
}

// Verify resolves the token to its subject id. A rejected token (4xx from the
// lookup endpoint, or no matching user) wraps identity.ErrInvalidToken so the
// resolver can fail the request instead of degrading to anonymous.
func (c *Client) Verify(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: empty token", identity.ErrInvalidToken)
	}

	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(lookupRequest{IDToken: token})
	if err != nil {
		return "", fmt.Errorf("identitytoolkit: marshal request: %w", err)
	}

	base := strings.TrimRight(c.baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	reqURL := base + "/accounts:lookup"

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if reqErr != nil {
		return "", fmt.Errorf("identitytoolkit: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", apiKey)

	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return "", fmt.Errorf("identitytoolkit: request failed: %w", doErr)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode >= 400 && res.StatusCode < 500 {
		// The endpoint answers 400 INVALID_ID_TOKEN for bad or expired tokens.
		return "", fmt.Errorf("%w: lookup rejected with status %d", identity.ErrInvalidToken, res.StatusCode)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", fmt.Errorf("identitytoolkit: unexpected status %d from %s: %s", res.StatusCode, reqURL, string(buf))
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("identitytoolkit: read response body: %w", err)
	}

	var payload lookupResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return "", fmt.Errorf("identitytoolkit: decode response: %w", decErr)
	}
	if len(payload.Users) == 0 || payload.Users[0].LocalID == "" {
		return "", fmt.Errorf("%w: token resolved to no user", identity.ErrInvalidToken)
	}
	return payload.Users[0].LocalID, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}
