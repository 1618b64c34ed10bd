// Copyright (c) 2025 polychat contributors
// SPDX-License-Identifier: MIT

// Package gateway is the completion boundary: it takes a model connection
// string and an ordered message history and returns the generated reply with
// any usage metadata the provider reported. The HTTP client speaks the
// OpenAI-compatible chat completions wire format, which every configured
// provider (OpenAI, OpenRouter, Ollama, vLLM, ...) accepts.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/polychat-dev/polychat/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotConfigured indicates the connection string names a provider with
	// no configuration (base URL / API key).
	ErrNotConfigured = errors.New("provider not configured")

	// ErrAuthFailed indicates the provider rejected the API key.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates the provider throttled the request.
	ErrRateLimited = errors.New("rate limited")

	// ErrModelNotFound indicates the provider does not know the model id.
	ErrModelNotFound = errors.New("model not found by provider")

	// ErrEmptyReply indicates the provider returned no choices.
	ErrEmptyReply = errors.New("provider returned an empty reply")
)

// APIError is a non-2xx response from a provider.
type APIError struct {
	Provider string
	Code     string
	Message  string
	Status   int
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s error [%s] (HTTP %d): %s", e.Provider, e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s error (HTTP %d): %s", e.Provider, e.Status, e.Message)
}

// =============================================================================
// GATEWAY BOUNDARY
// =============================================================================

// Request carries one completion call.
type Request struct {
	// Connection is the opaque "provider/model-id" connection string from
	// the registry entry.
	Connection string

	// Messages is the full ordered history, system message first if set.
	Messages []*model.Message

	Temperature float64
	MaxTokens   int
}

// Response is the generated reply.
type Response struct {
	Content string

	// Model is the provider-reported model identifier, which may differ
	// from the one requested (aliases, routing).
	Model string

	// Usage holds provider-reported token counts and the estimated cost.
	// All zero when the provider reports nothing.
	Usage model.Usage
}

// Gateway produces completions. The session depends on this interface so
// tests can substitute a stub for the HTTP client.
type Gateway interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
