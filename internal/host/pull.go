// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package host

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/rigrun-chat/internal/events"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// pullInterval throttles ollama_pull_progress events.
const pullInterval = 100 * time.Millisecond

// PullOllamaModel pulls model through the Ollama server at baseURL.
// Progress is completed/total*99, capped at 99, until the final
// "Model downloaded" event at 100.
func (h *Host) PullOllamaModel(ctx context.Context, baseURL, modelName string) error {
	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: baseURL, HTTPClient: h.httpClient})
	limiter := rate.NewLimiter(rate.Every(pullInterval), 1)

	err := client.Pull(ctx, modelName, func(p ollama.PullProgress) {
		if !limiter.Allow() && !p.IsSuccess() {
			return
		}
		h.progress(events.TopicOllamaPull, pullPercent(p), pullMessage(p))
	})
	if err != nil {
		return err
	}
	h.progress(events.TopicOllamaPull, 100, "Model downloaded")
	return nil
}

func pullPercent(p ollama.PullProgress) int {
	if p.Total <= 0 {
		return 0
	}
	pct := int(float64(p.Completed) / float64(p.Total) * 99)
	if pct > 99 {
		pct = 99
	}
	return pct
}

func pullMessage(p ollama.PullProgress) string {
	status := p.Status
	switch status {
	case "pulling", "downloading":
		status = "Downloading"
	case "verifying":
		status = "Verifying"
	case "writing":
		status = "Writing"
	case "success":
		status = "Done"
	}
	digest := p.Digest
	if len(digest) > 12 {
		digest = digest[:12]
	}
	if digest != "" {
		status += " " + digest
	}
	if p.Total > 0 {
		return fmt.Sprintf("%s: %s of %s", status, util.FormatSize(p.Completed), util.FormatSize(p.Total))
	}
	return status
}

// ListOllamaModels returns the names of the models installed in Ollama.
func (h *Host) ListOllamaModels(ctx context.Context, baseURL string) ([]string, error) {
	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: baseURL, HTTPClient: h.httpClient})
	models, err := client.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(models))
	for _, m := range models {
		names = append(names, m.Name)
	}
	return names, nil
}
