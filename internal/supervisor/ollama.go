// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package supervisor

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/events"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
	"github.com/jeranaias/rigrun-chat/internal/state"
)

// MsgOllamaNotConfirmed is the status when /api/tags never answers.
const MsgOllamaNotConfirmed = "Could not confirm that Ollama started. Check the logs and port."

const (
	ollamaReadyInterval = time.Second
	ollamaReadyAttempts = 30
)

// OllamaSupervisor runs "ollama serve" and pulls the configured model.
type OllamaSupervisor struct {
	base

	interval time.Duration
	attempts int
}

// NewOllamaSupervisor creates the Ollama supervisor.
func NewOllamaSupervisor(store *state.Store, rt Runtime, bus Events) *OllamaSupervisor {
	return &OllamaSupervisor{
		base:     newBase(model.ServerOllama, store, rt, bus),
		interval: ollamaReadyInterval,
		attempts: ollamaReadyAttempts,
	}
}

func (o *OllamaSupervisor) client(baseURL string) *ollama.Client {
	return ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: baseURL, HTTPClient: o.base.client})
}

// Start launches Ollama, waits up to 30s for /api/tags and pulls the
// configured model when it is missing. Launch and pull errors are
// returned; a readiness timeout only lands in state.
func (o *OllamaSupervisor) Start(ctx context.Context) error {
	ctx, finish, ok := o.begin(ctx, "Starting Ollama...")
	if !ok {
		return nil
	}
	defer finish()

	settings := o.store.Settings()
	if err := o.rt.StartOllamaServer(ctx, o.variant()); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.fail(ctx, "Ollama start error: "+err.Error())
		return err
	}

	baseURL := ollama.NormalizeBaseURL(settings.OllamaBase)
	client := o.client(baseURL)

	models, ready := o.waitTags(ctx, client)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !ready {
		o.fail(ctx, MsgOllamaNotConfirmed)
		return nil
	}

	name := strings.TrimSpace(settings.OllamaModel)
	if name != "" && !ollama.ContainsModel(models, name) {
		if err := o.pull(ctx, baseURL, name); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.fail(ctx, "Model download error: "+err.Error())
			return err
		}
	}
	o.ready(ctx, "Ollama started")
	return nil
}

// waitTags polls /api/tags once a second and returns the installed models
// of the first successful answer.
func (o *OllamaSupervisor) waitTags(ctx context.Context, client *ollama.Client) ([]ollama.ModelInfo, bool) {
	for i := 0; i < o.attempts; i++ {
		models, err := client.ListModels(ctx)
		if err == nil {
			return models, true
		}
		if ctx.Err() != nil {
			return nil, false
		}
		if sleep(ctx, o.interval) != nil {
			return nil, false
		}
	}
	return nil, false
}

func (o *OllamaSupervisor) pull(ctx context.Context, baseURL, name string) error {
	o.store.SetDownloadStatus(model.DownloadingStatus(0, "Downloading model..."))
	release := o.bus.Subscribe(events.TopicOllamaPull, func(ev events.Event) {
		if ctx.Err() != nil {
			return
		}
		msg := ev.Message
		if msg == "" {
			msg = "—"
		}
		if ev.Progress >= 100 {
			o.store.SetDownloadStatus(model.CompletedStatus(msg))
			return
		}
		o.store.SetDownloadStatus(model.DownloadingStatus(ev.Progress, msg))
	})
	defer release()
	return o.rt.PullOllamaModel(ctx, baseURL, name)
}

// Attach reports ready when /api/tags answers and already lists the
// configured model, so a later Start has nothing to pull.
func (o *OllamaSupervisor) Attach(ctx context.Context) bool {
	settings := o.store.Settings()
	models, err := o.client(ollama.NormalizeBaseURL(settings.OllamaBase)).ListModels(ctx)
	if err != nil {
		return false
	}
	if name := strings.TrimSpace(settings.OllamaModel); name != "" && !ollama.ContainsModel(models, name) {
		return false
	}
	return o.attach("Ollama running")
}

// Stop cancels a running start, stops the Ollama process this program
// spawned and resets readiness.
func (o *OllamaSupervisor) Stop(ctx context.Context) error {
	o.cancelStart()
	if err := o.rt.StopOllamaServer(ctx); err != nil {
		log.Printf("supervisor: stop_ollama_server failed: %v", err)
	}
	o.reset()
	return nil
}
