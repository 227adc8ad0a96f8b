// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// DefaultLlamaModel is sent when no model repository is configured. The
// server only has one model loaded so the name is informational.
const DefaultLlamaModel = "local-model"

// LlamaAdapter talks to a llama.cpp server on the loopback interface.
type LlamaAdapter struct {
	http *completer
	host string
}

// NewLlamaAdapter creates the adapter. A nil client has no timeout; long
// generations are bounded by the caller's context.
func NewLlamaAdapter(client *http.Client) *LlamaAdapter {
	if client == nil {
		client = &http.Client{}
	}
	// Local servers are not retried: a 503 means the model is still loading.
	return &LlamaAdapter{http: newCompleter("llama.cpp", client, 1), host: "127.0.0.1"}
}

// Name implements Adapter.
func (a *LlamaAdapter) Name() string { return string(model.ModeLlama) }

// Chat implements Adapter.
func (a *LlamaAdapter) Chat(ctx context.Context, req Request) (*Result, error) {
	r, ok := req.(LlamaRequest)
	if !ok {
		return nil, ErrRequestMismatch
	}
	if r.Port <= 0 || r.Port > 65535 {
		return nil, fmt.Errorf("invalid llama.cpp server port %d", r.Port)
	}

	modelName := strings.TrimSpace(r.Model)
	if modelName == "" {
		modelName = DefaultLlamaModel
	}

	params := openai.ChatCompletionNewParams{
		Model:       modelName,
		Messages:    messageParams(historyOrPrompt(r.Messages, r.Prompt)),
		Temperature: openai.Float(r.Params.Temperature),
		TopP:        openai.Float(r.Params.TopP),
		MaxTokens:   openai.Int(int64(r.Params.MaxTokens)),
	}

	url := fmt.Sprintf("http://%s:%d/v1/chat/completions", a.host, r.Port)
	// llama.cpp sampler fields outside the OpenAI schema.
	raw, err := a.http.complete(ctx, url, "", params,
		option.WithJSONSet("top_k", r.Params.TopK),
		option.WithJSONSet("min_p", r.Params.MinP),
		option.WithJSONSet("repeat_last_n", r.Params.RepeatLastN),
		option.WithJSONSet("stream", false),
	)
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
