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

const (
	// DefaultDeepSeekURL is the full chat completions URL.
	DefaultDeepSeekURL = "https://api.deepseek.com/chat/completions"

	// DefaultDeepSeekModel is used when no model is configured.
	DefaultDeepSeekModel = "deepseek-chat"

	hostedTemperature = 0.7
)

// DeepSeekAdapter talks to the hosted DeepSeek API.
type DeepSeekAdapter struct {
	http *completer
}

// NewDeepSeekAdapter creates the adapter. A nil client uses a client with
// DefaultTimeout.
func NewDeepSeekAdapter(client *http.Client) *DeepSeekAdapter {
	return &DeepSeekAdapter{http: newCompleter("DeepSeek", client, DefaultMaxRetries)}
}

// Name implements Adapter.
func (a *DeepSeekAdapter) Name() string { return string(model.ModeDeepSeek) }

// Chat implements Adapter.
func (a *DeepSeekAdapter) Chat(ctx context.Context, req Request) (*Result, error) {
	r, ok := req.(DeepSeekRequest)
	if !ok {
		return nil, ErrRequestMismatch
	}

	url := strings.TrimSpace(r.URL)
	if url == "" {
		url = DefaultDeepSeekURL
	}
	modelName := strings.TrimSpace(r.Model)
	if modelName == "" {
		modelName = DefaultDeepSeekModel
	}

	raw, err := a.http.complete(ctx, url, r.APIKey, openai.ChatCompletionNewParams{
		Model:       modelName,
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.UserMessage(r.Prompt)},
		Temperature: openai.Float(hostedTemperature),
	})
	if err != nil {
		return nil, err
	}

	content, parsed, isJSON := parseCompletion(raw)
	res := &Result{Content: content, Raw: string(raw)}
	if isJSON {
		res.Meta = completionMeta(parsed)
	}
	return res, nil
}
