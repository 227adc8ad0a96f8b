// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// ADAPTER
// =============================================================================

// Adapter sends one chat turn to a backend.
type Adapter interface {
	// Name returns the chat mode the adapter serves.
	Name() string

	// Chat performs the call. The request must be the variant matching the
	// adapter, otherwise ErrRequestMismatch is returned.
	Chat(ctx context.Context, req Request) (*Result, error)
}

// Result is the normalized reply of a backend.
type Result struct {
	// Content is never empty for a successful call unless the backend
	// returned an empty body.
	Content string

	// Meta carries model, usage and timing counters when the backend
	// reported them. Nil means no metadata.
	Meta model.ProviderMetadata

	// Raw is the unparsed response body.
	Raw string
}

// =============================================================================
// REQUESTS
// =============================================================================

// Request is one of OpenAIRequest, DeepSeekRequest, OllamaRequest or
// LlamaRequest.
type Request interface {
	Mode() model.ChatMode
}

// ChatMessage is a role-tagged history entry.
type ChatMessage struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// GenerationParams are the sampling parameters of the local backends.
type GenerationParams struct {
	Temperature float64
	TopK        int
	TopP        float64
	MinP        float64
	MaxTokens   int
	RepeatLastN int
}

// DefaultGenerationParams matches the llama.cpp server defaults.
func DefaultGenerationParams() GenerationParams {
	return GenerationParams{
		Temperature: 0.8,
		TopK:        40,
		TopP:        0.95,
		MinP:        0.05,
		MaxTokens:   -1,
		RepeatLastN: 64,
	}
}

// OpenAIRequest is a single-shot prompt for an OpenAI-compatible endpoint.
type OpenAIRequest struct {
	BaseURL string
	APIKey  string
	Model   string
	Prompt  string
}

// DeepSeekRequest is a single-shot prompt for DeepSeek. URL is the full
// chat completions URL.
type DeepSeekRequest struct {
	URL    string
	APIKey string
	Model  string
	Prompt string
}

// OllamaRequest carries role-tagged history for an Ollama server.
// Advanced is deep-merged over the generated request body.
type OllamaRequest struct {
	BaseURL  string
	Model    string
	Prompt   string
	Messages []ChatMessage
	Params   GenerationParams
	Advanced map[string]any
}

// LlamaRequest carries role-tagged history for a local llama.cpp server.
type LlamaRequest struct {
	Port     int
	Model    string
	Prompt   string
	Messages []ChatMessage
	Params   GenerationParams
}

func (OpenAIRequest) Mode() model.ChatMode   { return model.ModeOpenAI }
func (DeepSeekRequest) Mode() model.ChatMode { return model.ModeDeepSeek }
func (OllamaRequest) Mode() model.ChatMode   { return model.ModeOllama }
func (LlamaRequest) Mode() model.ChatMode    { return model.ModeLlama }

// historyOrPrompt returns messages, or a single user message built from
// prompt when no history was given.
func historyOrPrompt(messages []ChatMessage, prompt string) []ChatMessage {
	if len(messages) > 0 {
		return messages
	}
	return []ChatMessage{{Role: "user", Content: prompt}}
}
