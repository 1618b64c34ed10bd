// Copyright (c) 2025 polychat contributors
// SPDX-License-Identifier: MIT

package model

import (
	"time"

	"github.com/google/uuid"
)

// MaxMessages is the default cap on conversation history length. When
// exceeded, the oldest non-system messages are pruned so memory stays
// bounded during very long sessions. The system message is never pruned.
const MaxMessages = 1000

// =============================================================================
// USAGE COUNTERS
// =============================================================================

// Usage accumulates token and cost totals across a conversation.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// TotalTokens returns prompt plus completion tokens.
func (u Usage) TotalTokens() int {
	return u.PromptTokens + u.CompletionTokens
}

// Add folds another usage sample into the totals.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.CostUSD += other.CostUSD
}

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds an ordered chat history with its counters.
//
// Invariant: at most one system message exists, and when present it is
// always the first element of Messages. SetSystemPrompt maintains that
// slot; the append helpers never insert ahead of it.
type Conversation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Messages []*Message `json:"messages"`

	// Model is the friendly name of the model this conversation ran against.
	Model string `json:"model"`

	// Turns counts user turns (a user message, whether or not a reply followed).
	Turns int `json:"turns"`

	// Usage accumulates gateway-reported token and cost totals.
	Usage Usage `json:"usage"`

	maxMessages int
}

// NewConversation creates an empty conversation.
func NewConversation() *Conversation {
	now := time.Now()
	return &Conversation{
		ID:          "conv_" + uuid.NewString(),
		CreatedAt:   now,
		UpdatedAt:   now,
		Messages:    make([]*Message, 0),
		maxMessages: MaxMessages,
	}
}

// =============================================================================
// SYSTEM PROMPT SLOT
// =============================================================================

// SystemPrompt returns the current system prompt text, or "" if unset.
func (c *Conversation) SystemPrompt() string {
	if len(c.Messages) > 0 && c.Messages[0].Role == RoleSystem {
		return c.Messages[0].Content
	}
	return ""
}

// HasSystemPrompt reports whether a system message is present.
func (c *Conversation) HasSystemPrompt() bool {
	return len(c.Messages) > 0 && c.Messages[0].Role == RoleSystem
}

// SetSystemPrompt replaces the single logical system message. An empty text
// removes it. Calling twice with the same text leaves exactly one system
// message in place. History is otherwise untouched.
func (c *Conversation) SetSystemPrompt(text string) {
	has := c.HasSystemPrompt()

	switch {
	case text == "" && has:
		c.Messages = c.Messages[1:]
	case text == "":
		return
	case has:
		if c.Messages[0].Content == text {
			return
		}
		c.Messages[0] = NewSystemMessage(text)
	default:
		c.Messages = append([]*Message{NewSystemMessage(text)}, c.Messages...)
	}
	c.UpdatedAt = time.Now()
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// AddUserMessage appends a user message and advances the turn counter.
func (c *Conversation) AddUserMessage(content string) *Message {
	msg := NewUserMessage(content)
	c.append(msg)
	c.Turns++
	return msg
}

// AddAssistantMessage appends an assistant message.
func (c *Conversation) AddAssistantMessage(content string) *Message {
	msg := NewAssistantMessage(content)
	c.append(msg)
	return msg
}

func (c *Conversation) append(msg *Message) {
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = time.Now()
	c.prune()
}

// History returns the ordered message sequence, system message first when set.
func (c *Conversation) History() []*Message {
	return c.Messages
}

// LastAssistantMessage returns the most recent assistant message, or nil.
func (c *Conversation) LastAssistantMessage() *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleAssistant {
			return c.Messages[i]
		}
	}
	return nil
}

// MessageCount returns the number of messages, including any system message.
func (c *Conversation) MessageCount() int {
	return len(c.Messages)
}

// IsEmpty returns true when no messages beyond the system prompt exist.
func (c *Conversation) IsEmpty() bool {
	if c.HasSystemPrompt() {
		return len(c.Messages) == 1
	}
	return len(c.Messages) == 0
}

// Clear removes all non-system messages and zeroes the counters.
// The active model association and system prompt survive.
func (c *Conversation) Clear() {
	if c.HasSystemPrompt() {
		c.Messages = c.Messages[:1]
	} else {
		c.Messages = c.Messages[:0]
	}
	c.Turns = 0
	c.Usage = Usage{}
	c.UpdatedAt = time.Now()
}

// Replace swaps in a restored message sequence and counters, as /load does.
// The sequence is trusted to already satisfy the system-slot invariant.
func (c *Conversation) Replace(msgs []*Message, turns int, usage Usage) {
	c.Messages = msgs
	c.Turns = turns
	c.Usage = usage
	c.UpdatedAt = time.Now()
}

// =============================================================================
// TOKEN TRACKING
// =============================================================================

// EstimateTokens estimates the total token count of the conversation,
// used when the gateway reports no usage.
func (c *Conversation) EstimateTokens() int {
	total := 0
	for _, msg := range c.Messages {
		total += msg.EstimateTokens()
		total += 4 // per-message structural overhead
	}
	return total
}

// Preview returns a short one-line description of the conversation.
func (c *Conversation) Preview() string {
	for _, msg := range c.Messages {
		if msg.Role == RoleUser {
			return msg.Preview(80)
		}
	}
	return "Empty conversation"
}

// SetMaxMessages overrides the history cap. Zero or negative disables pruning.
func (c *Conversation) SetMaxMessages(n int) {
	c.maxMessages = n
	c.prune()
}

// prune drops the oldest non-system messages once the cap is exceeded.
func (c *Conversation) prune() {
	max := c.maxMessages
	if max <= 0 || len(c.Messages) <= max {
		return
	}

	head := 0
	if c.HasSystemPrompt() {
		head = 1
	}
	body := c.Messages[head:]
	if len(body) <= max {
		return
	}

	kept := make([]*Message, 0, head+max)
	kept = append(kept, c.Messages[:head]...)
	kept = append(kept, body[len(body)-max:]...)
	c.Messages = kept
}
