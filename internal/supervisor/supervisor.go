// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package supervisor

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/rigrun-chat/internal/events"
	"github.com/jeranaias/rigrun-chat/internal/host"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/state"
)

// =============================================================================
// INTERFACES
// =============================================================================

// Runtime is the host boundary the supervisors drive.
type Runtime interface {
	CheckBinaryInstalled(ctx context.Context, server model.ServerKind, variant string) (bool, error)
	DownloadServerBinaries(ctx context.Context, server model.ServerKind, variant, osOverride string) error
	StartLlamaServer(ctx context.Context, opts host.LlamaStartOptions) error
	StopLlamaServer(ctx context.Context) error
	StartOllamaServer(ctx context.Context, variant string) error
	StopOllamaServer(ctx context.Context) error
	PullOllamaModel(ctx context.Context, baseURL, model string) error
}

// Events is the subset of the event bus the supervisors listen on.
type Events interface {
	Subscribe(topic events.Topic, fn events.Handler) (release func())
}

// Supervisor is the lifecycle of one local server kind.
type Supervisor interface {
	Kind() model.ServerKind
	CheckInstalled(ctx context.Context) (bool, error)
	Install(ctx context.Context, variant, osOverride string) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	// Attach marks a server left running by an earlier process ready. It
	// never launches anything.
	Attach(ctx context.Context) bool
}

// healthTimeout bounds one health request.
const healthTimeout = 5 * time.Second

// =============================================================================
// SHARED LIFECYCLE
// =============================================================================

// base carries the parts of the lifecycle both server kinds share.
type base struct {
	kind   model.ServerKind
	store  *state.Store
	rt     Runtime
	bus    Events
	client *http.Client

	mu     sync.Mutex
	cancel context.CancelFunc
	// attempt identifies the running start in logs.
	attempt string
}

func newBase(kind model.ServerKind, store *state.Store, rt Runtime, bus Events) base {
	return base{
		kind:   kind,
		store:  store,
		rt:     rt,
		bus:    bus,
		client: &http.Client{Timeout: healthTimeout},
	}
}

// Kind returns the server kind.
func (b *base) Kind() model.ServerKind { return b.kind }

func (b *base) variant() string {
	v := strings.TrimSpace(b.store.Settings().ServerVariant)
	if v == "" {
		return host.VariantCPU
	}
	return v
}

// CheckInstalled refreshes HasBinary. Unless an install is in progress the
// status is set to completed ("Server installed") or reset to idle.
func (b *base) CheckInstalled(ctx context.Context) (bool, error) {
	ok, err := b.rt.CheckBinaryInstalled(ctx, b.kind, b.variant())
	if err != nil {
		log.Printf("supervisor: check_binary_installed %s failed: %v", b.kind, err)
		ok = false
	}
	b.store.Update(func(s *state.State) {
		s.HasBinary = ok
		if s.DownloadStatus.IsBusy() {
			return
		}
		if ok {
			s.DownloadStatus = model.CompletedStatus("Server installed")
		} else {
			s.DownloadStatus = model.IdleStatus()
		}
	})
	return ok, err
}

// Install downloads the variant build and confirms it with a fresh
// install check. Failures land in DownloadStatus and are also returned.
func (b *base) Install(ctx context.Context, variant, osOverride string) error {
	if strings.TrimSpace(variant) == "" {
		variant = b.variant()
	}
	b.store.SetDownloadStatus(model.DownloadingStatus(0, "Preparing..."))

	release := b.bus.Subscribe(events.TopicBinaryDownload, func(ev events.Event) {
		status := model.DownloadingStatus(ev.Progress, ev.Message)
		if ev.Progress >= 50 && (strings.HasPrefix(ev.Message, "Extracting") || strings.HasPrefix(ev.Message, "Unpacking")) {
			status = model.ExtractingStatus(ev.Progress, ev.Message)
		}
		b.store.SetDownloadStatus(status)
	})
	defer release()

	if err := b.rt.DownloadServerBinaries(ctx, b.kind, variant, osOverride); err != nil {
		b.store.SetDownloadStatus(model.ErrorStatus("Error: " + err.Error()))
		return err
	}

	ok, err := b.rt.CheckBinaryInstalled(ctx, b.kind, variant)
	if err == nil && !ok {
		err = fmt.Errorf("%s binary not found after install", b.kind)
	}
	if err != nil {
		b.store.Update(func(s *state.State) {
			s.HasBinary = false
			s.DownloadStatus = model.ErrorStatus("Error: " + err.Error())
		})
		return err
	}
	b.store.Update(func(s *state.State) {
		s.HasBinary = true
		s.DownloadStatus = model.CompletedStatus("Server successfully installed")
	})
	return nil
}

// begin claims the single start slot. It returns false when a start is
// already running. The returned ctx is cancelled by Stop; finish must run
// on every exit path.
func (b *base) begin(ctx context.Context, message string) (context.Context, func(), bool) {
	claimed := b.store.UpdateIf(func(s *state.State) bool {
		if s.IsStartingServer {
			return false
		}
		s.IsStartingServer = true
		s.DownloadStatus = model.DownloadingStatus(0, message)
		return true
	})
	if !claimed {
		return nil, nil, false
	}

	ctx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()
	b.mu.Lock()
	b.cancel = cancel
	b.attempt = id
	b.mu.Unlock()
	log.Printf("supervisor: %s start %s", b.kind, id)

	finish := func() {
		cancel()
		b.mu.Lock()
		if b.attempt == id {
			b.cancel = nil
			b.attempt = ""
		}
		b.mu.Unlock()
		b.store.Update(func(s *state.State) { s.IsStartingServer = false })
	}
	return ctx, finish, true
}

// cancelStart aborts the running start, if any.
func (b *base) cancelStart() {
	b.mu.Lock()
	cancel, id := b.cancel, b.attempt
	b.mu.Unlock()
	if cancel != nil {
		log.Printf("supervisor: %s cancelling start %s", b.kind, id)
		cancel()
	}
}

// fail records a start failure: not ready, error status, and the text as
// an assistant message. It does nothing once ctx is cancelled.
func (b *base) fail(ctx context.Context, text string) {
	b.store.UpdateIf(func(s *state.State) bool {
		if ctx.Err() != nil {
			return false
		}
		s.IsServerReady = false
		s.DownloadStatus = model.ErrorStatus(text)
		s.Messages = append(s.Messages, model.NewAssistantMessage(text, nil))
		return true
	})
}

// ready marks the server ready unless ctx was cancelled meanwhile.
func (b *base) ready(ctx context.Context, message string) bool {
	return b.store.UpdateIf(func(s *state.State) bool {
		if ctx.Err() != nil {
			return false
		}
		s.IsServerReady = true
		s.DownloadStatus = model.CompletedStatus(message)
		return true
	})
}

// attach marks the server ready unless a start owns the status.
func (b *base) attach(message string) bool {
	return b.store.UpdateIf(func(s *state.State) bool {
		if s.IsStartingServer {
			return false
		}
		s.IsServerReady = true
		s.DownloadStatus = model.CompletedStatus(message)
		return true
	})
}

// reset is the post-stop state.
func (b *base) reset() {
	b.store.Update(func(s *state.State) {
		s.IsServerReady = false
		s.DownloadStatus = model.IdleStatus()
	})
}

// checkHealth reports whether GET url answered 2xx. It returns an error only
// when no HTTP response arrived.
func (b *base) checkHealth(ctx context.Context, url string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return false, err
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
