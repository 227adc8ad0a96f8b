// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
)

// EmbeddingsOnlyMessage is returned instead of calling an embeddings model.
const EmbeddingsOnlyMessage = "This model is for embeddings only and cannot chat. " +
	"Choose a chat model such as llama3 or qwen."

var embedModelPattern = regexp.MustCompile(`(?i)(embed|embedding)`)

// IsEmbeddingsModel reports whether an Ollama model name looks like an
// embeddings-only model.
func IsEmbeddingsModel(name string) bool {
	return embedModelPattern.MatchString(name)
}

// OllamaAdapter talks to an Ollama server through the ollama client.
type OllamaAdapter struct {
	httpClient *http.Client
}

// NewOllamaAdapter creates the adapter. client may be nil.
func NewOllamaAdapter(client *http.Client) *OllamaAdapter {
	return &OllamaAdapter{httpClient: client}
}

// Name implements Adapter.
func (a *OllamaAdapter) Name() string { return string(model.ModeOllama) }

// Chat implements Adapter.
func (a *OllamaAdapter) Chat(ctx context.Context, req Request) (*Result, error) {
	r, ok := req.(OllamaRequest)
	if !ok {
		return nil, ErrRequestMismatch
	}

	if IsEmbeddingsModel(r.Model) {
		return &Result{
			Content: EmbeddingsOnlyMessage,
			Meta:    model.ProviderMetadata{"model": r.Model, "note": "embeddings_only"},
		}, nil
	}

	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:    r.BaseURL,
		HTTPClient: a.httpClient,
	})

	raw, err := client.ChatRaw(ctx, ollamaBody(r))
	if err != nil {
		return nil, err
	}
	return parseOllama(raw), nil
}

// ollamaBody builds the /api/chat body and merges the advanced params
// over it.
func ollamaBody(r OllamaRequest) map[string]any {
	body := map[string]any{
		"model":    r.Model,
		"messages": historyOrPrompt(r.Messages, r.Prompt),
		"stream":   false,
		"options": map[string]any{
			"temperature": r.Params.Temperature,
			"top_k":       r.Params.TopK,
			"top_p":       r.Params.TopP,
			"num_predict": r.Params.MaxTokens,
		},
	}
	if len(r.Advanced) > 0 {
		deepMerge(body, r.Advanced)
	}
	return body
}

func parseOllama(raw []byte) *Result {
	res := &Result{Content: string(raw), Raw: string(raw)}

	var resp ollama.ChatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return res
	}
	switch {
	case resp.Message != nil:
		res.Content = resp.Message.Content
	case resp.Response != nil:
		res.Content = *resp.Response
	}

	meta := model.ProviderMetadata{}
	putString(meta, "model", resp.Model)
	putInt(meta, "total_duration", resp.TotalDuration)
	putInt(meta, "load_duration", resp.LoadDuration)
	putInt(meta, "prompt_eval_count", resp.PromptEvalCount)
	putInt(meta, "prompt_eval_duration", resp.PromptEvalDuration)
	putInt(meta, "eval_count", resp.EvalCount)
	putInt(meta, "eval_duration", resp.EvalDuration)
	res.Meta = meta
	return res
}

func putInt(meta model.ProviderMetadata, key string, v *int64) {
	if v != nil {
		meta[key] = *v
	}
}
