// Package azureopenai is the retry/backoff-wrapped caller of the external
// classification service (an Azure-OpenAI-style chat-completions endpoint
// with structured output).
package azureopenai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"dialogue-annotator/internal/auth"
)

const (
	defaultMaxRetries = 6
	defaultBaseDelay  = 2 * time.Second
	defaultTimeout    = 60 * time.Second
)

// chatRequest is the minimal request shape for the chat-completions endpoint.
type chatRequest struct {
	Messages            []chatMessage   `json:"messages"`
	Temperature         float64         `json:"temperature"`
	MaxCompletionTokens int             `json:"max_completion_tokens,omitempty"`
	ResponseFormat      *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *jsonSchemaConfig `json:"json_schema,omitempty"`
}

type jsonSchemaConfig struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

// chatResponse is the minimal response shape returned by the endpoint.
type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// HTTPStatusError captures non-2xx upstream responses with status-aware
// context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("azureopenai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// ClassifyRequest describes one classification call.
type ClassifyRequest struct {
	Prompt      string
	SchemaName  string
	Schema      json.RawMessage // optional; plain json_object mode when nil
	MaxTokens   int
	Timeout     time.Duration
	Temperature float64
}

// Client wraps one deployment of the classification service.
//
// Classify returning (nil, nil) means "classification unavailable": the
// retry budget was exhausted or the request itself was rejected as
// malformed. Callers decide whether unavailable means pass (the gate) or
// empty annotation fields (substantive calls).
type Client struct {
	endpoint   string
	deployment string
	apiVersion string
	httpClient *http.Client
	creds      auth.Provider
	maxRetries int
	baseDelay  time.Duration
	sleep      func(time.Duration)
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.baseDelay = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// withSleep replaces the backoff sleeper; tests use it to avoid real delays.
func withSleep(fn func(time.Duration)) Option {
	return func(c *Client) { c.sleep = fn }
}

// NewClient creates a Client for the given endpoint and deployment. The
// credential provider must already be resolved (first successful provider
// for the whole run).
func NewClient(endpoint, deployment, apiVersion string, creds auth.Provider, opts ...Option) (*Client, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("azureopenai: endpoint must not be empty")
	}
	if strings.TrimSpace(deployment) == "" {
		return nil, errors.New("azureopenai: deployment must not be empty")
	}
	if creds == nil {
		return nil, errors.New("azureopenai: credential provider must not be nil")
	}
	c := &Client{
		endpoint:   endpoint,
		deployment: deployment,
		apiVersion: apiVersion,
		httpClient: &http.Client{},
		creds:      creds,
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		sleep:      time.Sleep,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) chatURL() string {
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		c.endpoint, c.deployment, c.apiVersion)
}

// Classify sends one prompt and returns the structured result. Rate limits,
// server errors, transport failures and unparseable bodies are retried with
// exponential backoff (baseDelay * 2^attempt). A non-retryable client error
// aborts immediately with an empty result, as does exhausting the retry
// budget. A non-nil error is returned only for failures that cannot be
// expressed as "unavailable" (context cancellation, request assembly).
func (c *Client) Classify(ctx context.Context, req ClassifyRequest) (json.RawMessage, error) {
	cred, err := c.creds.Credential(ctx)
	if err != nil {
		return nil, fmt.Errorf("azureopenai: resolve credential: %w", err)
	}

	body, err := json.Marshal(chatRequest{
		Messages:            []chatMessage{{Role: "user", Content: req.Prompt}},
		Temperature:         req.Temperature,
		MaxCompletionTokens: req.MaxTokens,
		ResponseFormat:      formatFor(req),
	})
	if err != nil {
		return nil, fmt.Errorf("azureopenai: marshal request: %w", err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	url := c.chatURL()

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		result, err := c.attempt(ctx, url, cred, body, timeout)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isNonRetryable(err) {
			c.logger.Error("non-retryable request error", "err", err)
			return nil, nil
		}

		wait := c.baseDelay * (1 << attempt)
		c.logger.Warn("classification call failed, backing off",
			"err", err, "wait", wait, "attempt", attempt+1, "max_retries", c.maxRetries)
		c.sleep(wait)
	}
	return nil, nil
}

// attempt performs a single call, bounded by the per-call timeout.
func (c *Client) attempt(ctx context.Context, url string, cred auth.Credential, body []byte, timeout time.Duration) (json.RawMessage, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(cred.Header, cred.Value)

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return nil, err
	}

	var payload chatResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(payload.Choices) == 0 {
		return nil, errors.New("no choices in response")
	}
	content := strings.TrimSpace(payload.Choices[0].Message.Content)
	if !json.Valid([]byte(content)) {
		return nil, errors.New("model returned non-JSON content")
	}
	return json.RawMessage(content), nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.httpClient.Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

// isNonRetryable reports whether the error is a client error other than a
// rate limit: retrying a malformed request cannot succeed, so it must not
// consume retry budget.
func isNonRetryable(err error) bool {
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	code := statusErr.StatusCode
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests
}

func formatFor(req ClassifyRequest) *responseFormat {
	if len(req.Schema) == 0 {
		return &responseFormat{Type: "json_object"}
	}
	name := req.SchemaName
	if name == "" {
		name = "classification"
	}
	return &responseFormat{
		Type: "json_schema",
		JSONSchema: &jsonSchemaConfig{
			Name:   name,
			Strict: true,
			Schema: req.Schema,
		},
	}
}
