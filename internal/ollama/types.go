// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import "time"

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Message represents a chat message in the conversation.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// PullRequest is the request body for /api/pull.
type PullRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ChatResponse is the non-streaming response from /api/chat.
type ChatResponse struct {
	Model              string    `json:"model"`
	CreatedAt          time.Time `json:"created_at"`
	Message            *Message  `json:"message,omitempty"`
	Response           *string   `json:"response,omitempty"`
	Done               bool      `json:"done"`
	TotalDuration      *int64    `json:"total_duration,omitempty"`       // nanoseconds
	LoadDuration       *int64    `json:"load_duration,omitempty"`        // nanoseconds
	PromptEvalCount    *int64    `json:"prompt_eval_count,omitempty"`    // tokens in prompt
	PromptEvalDuration *int64    `json:"prompt_eval_duration,omitempty"` // nanoseconds
	EvalCount          *int64    `json:"eval_count,omitempty"`           // tokens generated
	EvalDuration       *int64    `json:"eval_duration,omitempty"`        // nanoseconds
}

// ModelInfo contains information about an installed model.
type ModelInfo struct {
	Name       string       `json:"name"`
	Model      string       `json:"model,omitempty"`
	ModifiedAt time.Time    `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details,omitempty"`
}

// ModelDetails contains detailed information about a model.
type ModelDetails struct {
	Format            string `json:"format"`
	Family            string `json:"family"`
	ParameterSize     string `json:"parameter_size"`
	QuantizationLevel string `json:"quantization_level"`
}

// ListModelsResponse is the response from /api/tags.
type ListModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// PullProgress is one NDJSON line of a /api/pull stream.
type PullProgress struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// IsSuccess reports whether the line marks the end of a successful pull.
func (p PullProgress) IsSuccess() bool {
	return p.Status == "success"
}

// Percent returns completed/total scaled to 0..100, or -1 when unknown.
func (p PullProgress) Percent() float64 {
	if p.Total <= 0 {
		return -1
	}
	return float64(p.Completed) / float64(p.Total) * 100
}

// =============================================================================
// ERROR TYPES
// =============================================================================

// apiError is the error body returned by the Ollama API.
type apiError struct {
	Error string `json:"error"`
}
