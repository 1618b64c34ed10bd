// Copyright (c) 2025 polychat contributors
// SPDX-License-Identifier: MIT

package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polychat-dev/polychat/internal/model"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testMessages() []*model.Message {
	return []*model.Message{
		model.NewSystemMessage("be brief"),
		model.NewUserMessage("hi"),
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	providers := map[string]ProviderConfig{
		"test": {BaseURL: srv.URL, APIKey: "sk-test"},
	}
	pricing := map[string]Pricing{
		"test/some-model": {PromptPerMTok: 1.0, CompletionPerMTok: 2.0},
	}
	return NewClient(providers, pricing, quietLogger())
}

func TestCompleteSuccess(t *testing.T) {
	var gotReq chatRequest
	var gotAuth string

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		json.NewEncoder(w).Encode(map[string]any{
			"id":    "cmpl-1",
			"model": "some-model-v2",
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "hello there"}},
			},
			"usage": map[string]int{
				"prompt_tokens":     1_000_000,
				"completion_tokens": 500_000,
				"total_tokens":      1_500_000,
			},
		})
	})

	resp, err := client.Complete(context.Background(), Request{
		Connection:  "test/some-model",
		Messages:    testMessages(),
		Temperature: 0.7,
		MaxTokens:   256,
	})
	require.NoError(t, err)

	assert.Equal(t, "hello there", resp.Content)
	assert.Equal(t, "some-model-v2", resp.Model)
	assert.Equal(t, 1_000_000, resp.Usage.PromptTokens)
	assert.Equal(t, 500_000, resp.Usage.CompletionTokens)
	// 1M prompt tokens at $1/MTok + 0.5M completion at $2/MTok.
	assert.InDelta(t, 2.0, resp.Usage.CostUSD, 1e-9)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "some-model", gotReq.Model)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Equal(t, "be brief", gotReq.Messages[0].Content)
	assert.False(t, gotReq.Stream)
	assert.Equal(t, 0.7, gotReq.Temperature)
}

func TestCompleteProviderNotConfigured(t *testing.T) {
	client := NewClient(map[string]ProviderConfig{}, nil, quietLogger())

	_, err := client.Complete(context.Background(), Request{
		Connection: "nowhere/some-model",
		Messages:   testMessages(),
	})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestCompleteAuthFailed(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"code": "invalid_api_key", "message": "bad key"}}`))
	})

	_, err := client.Complete(context.Background(), Request{
		Connection: "test/some-model",
		Messages:   testMessages(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthFailed)
	assert.Contains(t, err.Error(), "bad key")
}

func TestCompleteModelNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": {"message": "unknown model"}}`))
	})

	_, err := client.Complete(context.Background(), Request{
		Connection: "test/ghost",
		Messages:   testMessages(),
	})
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestCompleteRetriesServerErrors(t *testing.T) {
	attempts := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error": {"message": "transient"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model": "some-model",
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "recovered"}},
			},
		})
	})

	resp, err := client.Complete(context.Background(), Request{
		Connection: "test/some-model",
		Messages:   testMessages(),
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, 3, attempts)
}

func TestCompleteExhaustsRetries(t *testing.T) {
	attempts := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error": {"message": "down"}}`))
	})

	_, err := client.Complete(context.Background(), Request{
		Connection: "test/some-model",
		Messages:   testMessages(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, DefaultMaxRetries, attempts)
}

func TestCompleteDoesNotRetryCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		cancel()
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.Complete(ctx, Request{
		Connection: "test/some-model",
		Messages:   testMessages(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestCompleteEmptyReply(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"model": "m", "choices": []any{}})
	})

	_, err := client.Complete(context.Background(), Request{
		Connection: "test/some-model",
		Messages:   testMessages(),
	})
	assert.ErrorIs(t, err, ErrEmptyReply)
}

func TestSplitConnection(t *testing.T) {
	tests := []struct {
		conn     string
		provider string
		modelID  string
	}{
		{"openai/gpt-4o-mini", "openai", "gpt-4o-mini"},
		{"openrouter/anthropic/claude-3.5-sonnet", "openrouter", "anthropic/claude-3.5-sonnet"},
		{"bare-model", "default", "bare-model"},
	}

	for _, tt := range tests {
		provider, modelID := splitConnection(tt.conn)
		assert.Equal(t, tt.provider, provider, tt.conn)
		assert.Equal(t, tt.modelID, modelID, tt.conn)
	}
}
