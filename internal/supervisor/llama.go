// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package supervisor

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/events"
	"github.com/jeranaias/rigrun-chat/internal/host"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/state"
)

// Start failure messages.
const (
	MsgHFTimeout      = "Model loading is taking too long or was interrupted. Please check your internet connection and model access (HF token for gated models)."
	MsgGenericTimeout = "Failed to start the local server. Please check the model and logs."
)

const (
	llamaHealthInterval = 2 * time.Second
	llamaHealthAttempts = 300
)

// LlamaSupervisor runs llama-server.
type LlamaSupervisor struct {
	base

	interval time.Duration
	attempts int
}

// NewLlamaSupervisor creates the llama.cpp supervisor.
func NewLlamaSupervisor(store *state.Store, rt Runtime, bus Events) *LlamaSupervisor {
	return &LlamaSupervisor{
		base:     newBase(model.ServerLlamaCpp, store, rt, bus),
		interval: llamaHealthInterval,
		attempts: llamaHealthAttempts,
	}
}

// ModelRef resolves the model argument for llama-server. A configured
// model file wins, then "hf:"+repo. With neither set, the default repo is
// used and usedDefault is true.
func ModelRef(s config.Settings) (ref string, usedDefault bool) {
	if f := strings.TrimSpace(s.ModelFile); f != "" {
		return f, false
	}
	if repo := strings.TrimSpace(s.ModelRepo); repo != "" {
		return host.HFPrefix + repo, false
	}
	return host.HFPrefix + config.DefaultModelRepo, true
}

// Start launches llama-server and waits for it to answer /health (or
// /v1/models) for up to ten minutes. Launch errors are returned; timeouts
// and gated-model failures only land in state.
func (l *LlamaSupervisor) Start(ctx context.Context) error {
	ctx, finish, ok := l.begin(ctx, "Starting...")
	if !ok {
		return nil
	}
	defer finish()

	settings := l.store.Settings()
	ref, usedDefault := ModelRef(settings)
	if usedDefault {
		l.store.SetDownloadStatus(model.DownloadingStatus(0, "Use default model: "+config.DefaultModelRepo))
	}

	var failed atomic.Bool
	release := l.bus.Subscribe(events.TopicLlamaLog, func(ev events.Event) {
		l.onLog(ctx, ev.Line, &failed)
	})
	defer release()

	port := settings.ServerPort
	if port <= 0 {
		port = config.DefaultServerPort
	}
	err := l.rt.StartLlamaServer(ctx, host.LlamaStartOptions{ModelRef: ref, Variant: l.variant(), Port: port})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.fail(ctx, "Server start error: "+err.Error())
		return err
	}

	healthy := l.waitHealthy(ctx, port, &failed)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !healthy {
		if !failed.Load() {
			msg := MsgGenericTimeout
			if strings.HasPrefix(ref, host.HFPrefix) {
				msg = MsgHFTimeout
			}
			l.fail(ctx, msg)
		}
		return nil
	}
	l.ready(ctx, "Server successfully started")
	return nil
}

// onLog applies one log line to the status.
func (l *LlamaSupervisor) onLog(ctx context.Context, line string, failed *atomic.Bool) {
	if line == "" || ctx.Err() != nil || failed.Load() {
		return
	}
	u := ParseLogLine(line)
	if u.Failed {
		if failed.CompareAndSwap(false, true) {
			l.fail(ctx, u.Message)
		}
		return
	}
	l.store.UpdateIf(func(s *state.State) bool {
		if ctx.Err() != nil || failed.Load() {
			return false
		}
		if u.Progress >= 0 {
			s.DownloadStatus = model.DownloadingStatus(u.Progress, u.Message)
		} else {
			s.DownloadStatus = model.DownloadingStatus(s.DownloadStatus.Progress, u.Message)
		}
		return true
	})
}

// waitHealthy polls /health, falling back to /v1/models when /health gets
// no response at all.
func (l *LlamaSupervisor) waitHealthy(ctx context.Context, port int, failed *atomic.Bool) bool {
	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	for i := 0; i < l.attempts && !failed.Load(); i++ {
		if sleep(ctx, l.interval) != nil {
			return false
		}
		ok, err := l.checkHealth(ctx, base+"/health")
		if err != nil {
			ok, _ = l.checkHealth(ctx, base+"/v1/models")
		}
		if ok {
			return true
		}
	}
	return false
}

// Attach checks /health once on the configured port.
func (l *LlamaSupervisor) Attach(ctx context.Context) bool {
	port := l.store.Settings().ServerPort
	if port <= 0 {
		port = config.DefaultServerPort
	}
	ok, err := l.checkHealth(ctx, fmt.Sprintf("http://127.0.0.1:%d/health", port))
	if err != nil || !ok {
		return false
	}
	return l.attach("Server already running")
}

// Stop cancels a running start, kills llama-server and resets readiness.
// Stop failures are logged, not returned.
func (l *LlamaSupervisor) Stop(ctx context.Context) error {
	l.cancelStart()
	if err := l.rt.StopLlamaServer(ctx); err != nil {
		log.Printf("supervisor: stop_llamacpp_server failed: %v", err)
	}
	l.reset()
	return nil
}
