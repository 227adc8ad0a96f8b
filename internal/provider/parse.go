// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"encoding/json"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// completionBody is the subset of an OpenAI-style chat completion that the
// adapters read. Every field is optional.
type completionBody struct {
	ID                string `json:"id"`
	Model             string `json:"model"`
	SystemFingerprint string `json:"system_fingerprint"`
	Choices           []struct {
		Message *struct {
			Content *string `json:"content"`
		} `json:"message"`
		Text *string `json:"text"`
	} `json:"choices"`
	Usage   map[string]any `json:"usage"`
	Timings map[string]any `json:"timings"`
}

// parseCompletion extracts choices[0].message.content, then
// choices[0].text, then the raw body. ok is false when raw is not JSON.
func parseCompletion(raw []byte) (content string, body completionBody, ok bool) {
	if err := json.Unmarshal(raw, &body); err != nil {
		return string(raw), body, false
	}
	if len(body.Choices) > 0 {
		c := body.Choices[0]
		if c.Message != nil && c.Message.Content != nil {
			return *c.Message.Content, body, true
		}
		if c.Text != nil {
			return *c.Text, body, true
		}
	}
	return string(raw), body, true
}

// completionMeta builds metadata from a parsed completion, leaving out
// absent fields.
func completionMeta(body completionBody) model.ProviderMetadata {
	meta := model.ProviderMetadata{}
	putString(meta, "model", body.Model)
	putString(meta, "id", body.ID)
	putString(meta, "system_fingerprint", body.SystemFingerprint)
	if body.Usage != nil {
		meta["usage"] = body.Usage
	}
	if body.Timings != nil {
		meta["timings"] = body.Timings
	}
	return meta
}

func putString(meta model.ProviderMetadata, key, value string) {
	if value != "" {
		meta[key] = value
	}
}
