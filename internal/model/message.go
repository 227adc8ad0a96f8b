// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// SENDER TYPE
// =============================================================================

// Sender identifies who produced a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Role returns the chat-completion role for the sender.
func (s Sender) Role() string {
	if s == SenderUser {
		return "user"
	}
	return "assistant"
}

// DisplayName returns a human-readable name for the sender.
func (s Sender) DisplayName() string {
	switch s {
	case SenderUser:
		return "You"
	case SenderAssistant:
		return "Assistant"
	default:
		return string(s)
	}
}

// =============================================================================
// PROVIDER METADATA
// =============================================================================

// ProviderMetadata is the free-form record a provider returns alongside a
// reply: model name, token usage, timings. Nil means no metadata.
type ProviderMetadata map[string]any

// String returns the value stored under key when it is a string.
func (m ProviderMetadata) String(key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// Number returns the numeric value stored under key.
func (m ProviderMetadata) Number(key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is a single entry in the chat log. Entries are append-only.
type Message struct {
	ID        string           `json:"id"`
	Text      string           `json:"text"`
	Sender    Sender           `json:"sender"`
	Meta      ProviderMetadata `json:"meta,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// NewUserMessage creates a user message.
func NewUserMessage(text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Text:      text,
		Sender:    SenderUser,
		CreatedAt: time.Now(),
	}
}

// NewAssistantMessage creates an assistant message with optional metadata.
func NewAssistantMessage(text string, meta ProviderMetadata) Message {
	return Message{
		ID:        uuid.NewString(),
		Text:      text,
		Sender:    SenderAssistant,
		Meta:      meta,
		CreatedAt: time.Now(),
	}
}

// IsUser reports whether the message came from the user.
func (m Message) IsUser() bool {
	return m.Sender == SenderUser
}
