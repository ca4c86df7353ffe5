// Package gemini is a focused client for the Google Generative Language API.
// It wraps exactly one call shape, generateContent, and reports its result as
// a tri-state outcome so callers can tell a safety rejection apart from a
// transient failure.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"asesor-agent/internal/domain"
	"asesor-agent/internal/integrations/paramstore"
)

const (
	defaultBaseURL    = "https://generativelanguage.googleapis.com/v1beta"
	finishSafety      = "SAFETY"
	blockReasonSafety = "SAFETY"
)

// generateRequest is the minimal request shape for generateContent.
type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

// generateResponse is the minimal response shape returned by generateContent.
type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("gemini: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client calls the Generative Language API. The API key is fetched from SSM
// on the first call to Generate and reused for the process lifetime.
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
		return nil, errors.New("gemini: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("gemini: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
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
		c.apiKey, c.keyErr = paramstore.FetchAPIKey(ctx, c.getter, c.paramPrefix+"/gemini-token")
	})
	return c.apiKey, c.keyErr
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

// generateURL deliberately excludes the API key; the key travels in the
// x-goog-api-key header so it can never leak through error messages.
func generateURL(baseURL, model string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return fmt.Sprintf("%s/models/%s:generateContent", base, url.PathEscape(model))
}

// Generate runs one generateContent call with the given prompt.
//
// A non-nil error means the call itself failed (transport fault, non-2xx,
// undecodable body). A nil error always carries a meaningful outcome: SUCCESS
// with the model text, SAFETY_BLOCK when the prompt or the candidate was
// rejected by the safety filters, or ERROR when the model returned no usable
// text for any other reason.
func (c *Client) Generate(ctx context.Context, model, prompt string) (domain.GenerationOutcome, error) {
	if model == "" {
		return domain.GenerationOutcome{}, errors.New("gemini: model must not be empty")
	}

	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return domain.GenerationOutcome{}, err
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return domain.GenerationOutcome{}, fmt.Errorf("gemini: marshal request: %w", err)
	}

	reqURL := generateURL(c.baseURL, model)

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if reqErr != nil {
		return domain.GenerationOutcome{}, fmt.Errorf("gemini: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", apiKey)

	raw, err := c.doJSONRequest(req, reqURL)
	if err != nil {
		return domain.GenerationOutcome{}, fmt.Errorf("gemini: request failed: %w", err)
	}

	var payload generateResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return domain.GenerationOutcome{}, fmt.Errorf("gemini: decode response: %w", decErr)
	}

	return outcomeFromResponse(payload), nil
}

// outcomeFromResponse classifies a decoded generateContent response. The API
// signals a safety rejection two ways: the prompt itself blocked (no
// candidates, promptFeedback.blockReason=SAFETY) or the candidate cut off
// with finishReason=SAFETY and no text parts.
func outcomeFromResponse(payload generateResponse) domain.GenerationOutcome {
	if len(payload.Candidates) == 0 {
		if payload.PromptFeedback.BlockReason == blockReasonSafety {
			return domain.GenerationOutcome{Status: domain.GenerationSafetyBlock}
		}
		return domain.GenerationOutcome{
			Status: domain.GenerationError,
			Text:   "la IA devolvió una respuesta vacía (sin candidatos)",
		}
	}

	cand := payload.Candidates[0]
	text := joinParts(cand.Content.Parts)
	if text == "" {
		if cand.FinishReason == finishSafety {
			return domain.GenerationOutcome{Status: domain.GenerationSafetyBlock}
		}
		return domain.GenerationOutcome{
			Status: domain.GenerationError,
			Text:   fmt.Sprintf("la IA devolvió una respuesta vacía (razón: %s)", cand.FinishReason),
		}
	}
	return domain.GenerationOutcome{Status: domain.GenerationSuccess, Text: text}
}

func joinParts(parts []part) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

func (c *Client) doJSONRequest(req *http.Request, reqURL string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        reqURL,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
