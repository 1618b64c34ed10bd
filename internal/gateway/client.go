// Copyright (c) 2025 polychat contributors
// SPDX-License-Identifier: MIT

package gateway

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

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/polychat-dev/polychat/internal/model"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultTimeout bounds one completion request end to end.
	DefaultTimeout = 120 * time.Second

	// DefaultMaxRetries is the number of attempts for transient errors.
	DefaultMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay caps the backoff delay.
	retryMaxDelay = 10 * time.Second

	// maxResponseSize caps the response body read to keep a misbehaving
	// endpoint from exhausting memory.
	maxResponseSize = 10 * 1024 * 1024
)

// sharedHTTPClient pools connections across all providers.
var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	},
	Timeout: DefaultTimeout,
}

// =============================================================================
// PROVIDER CONFIGURATION
// =============================================================================

// ProviderConfig describes how to reach one provider's chat completions
// endpoint.
type ProviderConfig struct {
	// BaseURL is the API root, e.g. "https://api.openai.com/v1".
	BaseURL string

	// APIKey is sent as a bearer token when non-empty. Local providers
	// such as Ollama need none.
	APIKey string

	// RequestsPerMinute throttles calls to this provider. Zero disables
	// throttling.
	RequestsPerMinute int
}

// Pricing is the per-million-token cost of a model, used to estimate spend
// from provider-reported usage.
type Pricing struct {
	PromptPerMTok     float64
	CompletionPerMTok float64
}

// =============================================================================
// HTTP CLIENT
// =============================================================================

// Client implements Gateway against OpenAI-compatible endpoints. The
// connection string's segment before the first "/" selects the provider;
// the remainder is the provider's model id.
type Client struct {
	providers  map[string]ProviderConfig
	pricing    map[string]Pricing
	log        *logrus.Logger
	maxRetries int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewClient builds a gateway client. pricing is keyed by connection string
// and may be nil.
func NewClient(providers map[string]ProviderConfig, pricing map[string]Pricing, log *logrus.Logger) *Client {
	return &Client{
		providers:  providers,
		pricing:    pricing,
		log:        log,
		maxRetries: DefaultMaxRetries,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// WithMaxRetries overrides the retry attempt count.
func (c *Client) WithMaxRetries(n int) *Client {
	c.maxRetries = n
	return c
}

// splitConnection separates "provider/model-id" on the first slash. A bare
// name with no slash is treated as the "default" provider's model id.
func splitConnection(conn string) (provider, modelID string) {
	if i := strings.Index(conn, "/"); i > 0 {
		return conn[:i], conn[i+1:]
	}
	return "default", conn
}

// limiter returns the provider's rate limiter, creating it on first use.
// Nil means the provider is unthrottled.
func (c *Client) limiter(provider string, cfg ProviderConfig) *rate.Limiter {
	if cfg.RequestsPerMinute <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	lim, ok := c.limiters[provider]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
		c.limiters[provider] = lim
	}
	return lim
}

// Complete implements Gateway.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	provider, modelID := splitConnection(req.Connection)

	cfg, ok := c.providers[provider]
	if !ok || cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, provider)
	}

	if lim := c.limiter(provider, cfg); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, err
		}
	}

	wireReq := chatRequest{
		Model:       modelID,
		Messages:    toWireMessages(req.Messages),
		Stream:      false,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoffDelay(attempt)):
			}
		}

		resp, err := c.doRequest(ctx, provider, cfg, wireReq)
		if err != nil {
			if isRetryable(err) {
				lastErr = err
				c.log.WithError(err).WithField("attempt", attempt+1).Debug("retrying completion")
				continue
			}
			return nil, err
		}
		return c.toResponse(req.Connection, resp), nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// toResponse converts a wire response, estimating cost when pricing is known.
func (c *Client) toResponse(connection string, wire *chatResponse) *Response {
	resp := &Response{
		Content: wire.content(),
		Model:   wire.Model,
		Usage: model.Usage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
		},
	}

	if p, ok := c.pricing[connection]; ok {
		resp.Usage.CostUSD = float64(wire.Usage.PromptTokens)/1e6*p.PromptPerMTok +
			float64(wire.Usage.CompletionTokens)/1e6*p.CompletionPerMTok
	}
	return resp
}

// =============================================================================
// WIRE FORMAT
// =============================================================================

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func toWireMessages(msgs []*model.Message) []wireMessage {
	out := make([]wireMessage, len(msgs))
	for i, m := range msgs {
		out[i] = wireMessage{Role: m.Role.String(), Content: m.Content}
	}
	return out
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (r *chatResponse) content() string {
	if len(r.Choices) > 0 {
		return r.Choices[0].Message.Content
	}
	return ""
}

type apiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// =============================================================================
// HTTP PLUMBING
// =============================================================================

func (c *Client) doRequest(ctx context.Context, provider string, cfg ProviderConfig, reqBody chatRequest) (*chatResponse, error) {
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := strings.TrimSuffix(cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "polychat/1.0")
	if cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	start := time.Now()
	resp, err := sharedHTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", provider, err)
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"provider": provider,
		"status":   resp.StatusCode,
		"duration": time.Since(start).Round(time.Millisecond).String(),
	}).Debug("completion request")

	if resp.StatusCode != http.StatusOK {
		return nil, errorFromResponse(provider, resp.StatusCode, body)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("parsing %s response: %w", provider, err)
	}
	if chatResp.content() == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyReply, provider)
	}

	return &chatResp, nil
}

// readResponse reads the body with a size cap.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if int64(len(body)) == maxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", maxResponseSize)
	}
	return body, nil
}

// errorFromResponse maps HTTP error statuses to the package sentinels,
// carrying the provider's message when it parses.
func errorFromResponse(provider string, status int, body []byte) error {
	apiErr := &APIError{Provider: provider, Status: status}

	var parsed apiErrorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		apiErr.Code = parsed.Error.Code
		apiErr.Message = parsed.Error.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrAuthFailed, apiErr.Message)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrModelNotFound, apiErr.Message)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Message)
	default:
		return apiErr
	}
}

// isRetryable reports whether an error is transient enough to retry.
// Context cancellation is never retried.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 && apiErr.Status < 600
	}
	return false
}

func backoffDelay(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt-1))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}
