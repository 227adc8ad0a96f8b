// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// DefaultOpenAIBase is used when no base URL is configured.
const DefaultOpenAIBase = "https://api.openai.com/v1"

// OpenAIAdapter talks to any OpenAI-compatible endpoint through openai-go.
type OpenAIAdapter struct {
	http *completer
}

// NewOpenAIAdapter creates the adapter. client may be nil.
func NewOpenAIAdapter(client *http.Client) *OpenAIAdapter {
	return &OpenAIAdapter{http: newCompleter("OpenAI", client, DefaultMaxRetries)}
}

// Name implements Adapter.
func (a *OpenAIAdapter) Name() string { return string(model.ModeOpenAI) }

// Chat implements Adapter.
func (a *OpenAIAdapter) Chat(ctx context.Context, req Request) (*Result, error) {
	r, ok := req.(OpenAIRequest)
	if !ok {
		return nil, ErrRequestMismatch
	}

	base := strings.TrimRight(strings.TrimSpace(r.BaseURL), "/")
	if base == "" {
		base = DefaultOpenAIBase
	}

	capture := &rawCapture{}
	client := a.http.client(base+"/", r.APIKey, capture)

	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       r.Model,
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.UserMessage(r.Prompt)},
		Temperature: openai.Float(hostedTemperature),
	})

	status, raw, bodyErr := capture.get()
	if bodyErr != nil {
		return nil, bodyErr
	}
	if err != nil {
		// A 2xx body that failed to decode is returned as text.
		if status >= 200 && status < 300 && ctx.Err() == nil {
			return &Result{Content: string(raw), Raw: string(raw)}, nil
		}
		return nil, err
	}

	res := &Result{Content: string(raw), Raw: string(raw)}
	if len(resp.Choices) > 0 {
		res.Content = resp.Choices[0].Message.Content
	}
	meta := model.ProviderMetadata{}
	putString(meta, "model", resp.Model)
	putString(meta, "id", resp.ID)
	putString(meta, "system_fingerprint", resp.SystemFingerprint)
	if resp.Usage.TotalTokens > 0 {
		meta["usage"] = map[string]any{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		}
	}
	res.Meta = meta
	return res, nil
}
