// Copyright (c) 2025 polychat contributors
// SPDX-License-Identifier: MIT

// Package session holds the live state of one interactive chat: the active
// model, the conversation history, sampling parameters, and the running
// usage counters. All mutation happens on the single REPL goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/polychat-dev/polychat/internal/gateway"
	"github.com/polychat-dev/polychat/internal/model"
	"github.com/polychat-dev/polychat/internal/registry"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNoModel indicates a chat turn was attempted before any model was
	// selected.
	ErrNoModel = errors.New("no model selected")

	// ErrGateway wraps completion failures so the dispatcher can recognize
	// them. The user turn stays in history when this is returned.
	ErrGateway = errors.New("completion failed")
)

// GatewayError carries the underlying gateway failure.
type GatewayError struct {
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("completion failed: %v", e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Is(target error) bool { return target == ErrGateway }

// =============================================================================
// SESSION
// =============================================================================

// Params are the sampling parameters sent with every completion.
type Params struct {
	Temperature float64
	MaxTokens   int
}

// Recorder receives one record per completed turn. The telemetry tracker
// implements it; a nil recorder disables tracking.
type Recorder interface {
	RecordTurn(sessionID, modelName string, usage model.Usage, duration time.Duration)
}

// Session is the single mutable state of the REPL.
type Session struct {
	ID        string
	StartedAt time.Time

	gw       gateway.Gateway
	recorder Recorder

	active *registry.Entry
	conv   *model.Conversation
	params Params

	// dirty tracks whether the conversation changed since the last save,
	// deciding whether /quit auto-saves.
	dirty bool
}

// New creates an empty session talking to the given gateway. recorder may
// be nil.
func New(gw gateway.Gateway, recorder Recorder, params Params) *Session {
	return &Session{
		ID:        "sess_" + uuid.NewString(),
		StartedAt: time.Now(),
		gw:        gw,
		recorder:  recorder,
		conv:      model.NewConversation(),
		params:    params,
	}
}

// ActiveModel returns the current model entry, or nil before the first
// switch.
func (s *Session) ActiveModel() *registry.Entry {
	return s.active
}

// Conversation exposes the history for rendering.
func (s *Session) Conversation() *model.Conversation {
	return s.conv
}

// Params returns the current sampling parameters.
func (s *Session) Params() Params {
	return s.params
}

// Dirty reports whether there are unsaved changes worth auto-saving.
func (s *Session) Dirty() bool {
	return s.dirty && !s.conv.IsEmpty()
}

// MarkSaved clears the dirty flag after a successful save.
func (s *Session) MarkSaved() {
	s.dirty = false
}

// =============================================================================
// STATE TRANSITIONS
// =============================================================================

// SwitchModel sets the active model. History is untouched; the entry is
// already resolved and validated by the caller.
func (s *Session) SwitchModel(entry *registry.Entry) {
	s.active = entry
	s.conv.Model = entry.Name
}

// SetSystemPrompt replaces the single system message. Empty text removes it.
func (s *Session) SetSystemPrompt(text string) {
	before := s.conv.SystemPrompt()
	s.conv.SetSystemPrompt(text)
	if s.conv.SystemPrompt() != before {
		s.dirty = true
	}
}

// Reset clears history and counters, keeping the active model and system
// prompt. A fresh conversation has nothing worth auto-saving.
func (s *Session) Reset() {
	s.conv.Clear()
	s.dirty = false
}

// ReplaceHistory swaps in a restored conversation, as /load does.
func (s *Session) ReplaceHistory(msgs []*model.Message, turns int, usage model.Usage) {
	s.conv.Replace(msgs, turns, usage)
	// Freshly loaded state matches what is on disk.
	s.dirty = false
}

// =============================================================================
// CHAT TURNS
// =============================================================================

// Send appends the user turn, calls the gateway with the full ordered
// history, and appends the reply. On gateway failure the user turn remains
// in history, no assistant turn is appended, and a GatewayError is
// returned so the user can retry or inspect.
func (s *Session) Send(ctx context.Context, text string) (*model.Message, error) {
	if s.active == nil {
		return nil, ErrNoModel
	}

	s.conv.AddUserMessage(text)
	s.dirty = true

	start := time.Now()
	resp, err := s.gw.Complete(ctx, gateway.Request{
		Connection:  s.active.Connection,
		Messages:    s.conv.History(),
		Temperature: s.params.Temperature,
		MaxTokens:   s.params.MaxTokens,
	})
	if err != nil {
		return nil, &GatewayError{Err: err}
	}

	reply := s.conv.AddAssistantMessage(resp.Content)
	if resp.Usage.CompletionTokens > 0 {
		reply.TokenCount = resp.Usage.CompletionTokens
	}
	s.conv.Usage.Add(resp.Usage)

	if s.recorder != nil {
		s.recorder.RecordTurn(s.ID, s.active.Name, resp.Usage, time.Since(start))
	}
	return reply, nil
}

// =============================================================================
// STATISTICS
// =============================================================================

// Stats is a point-in-time read of the session counters.
type Stats struct {
	ModelName        string
	Connection       string
	Turns            int
	MessageCount     int
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CostUSD          float64
	SystemPromptSet  bool
	Elapsed          time.Duration
}

// Stats computes the current counters. Pure read, no side effects.
func (s *Session) Stats() Stats {
	st := Stats{
		Turns:            s.conv.Turns,
		MessageCount:     s.conv.MessageCount(),
		PromptTokens:     s.conv.Usage.PromptTokens,
		CompletionTokens: s.conv.Usage.CompletionTokens,
		TotalTokens:      s.conv.Usage.TotalTokens(),
		CostUSD:          s.conv.Usage.CostUSD,
		SystemPromptSet:  s.conv.HasSystemPrompt(),
		Elapsed:          time.Since(s.StartedAt),
	}
	if s.active != nil {
		st.ModelName = s.active.Name
		st.Connection = s.active.Connection
	}
	return st
}
