// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"fmt"
	"net/http"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/provider"
)

// Readiness is the local server state the router consults.
type Readiness struct {
	IsServerReady bool
}

// Refusal explains why Route returned false.
type Refusal int

const (
	// RefusalNone means the route succeeded.
	RefusalNone Refusal = iota
	// RefusalUnknownMode means no adapter is registered for the mode.
	RefusalUnknownMode
	// RefusalNotReady means a local mode's server is not ready.
	RefusalNotReady
)

// String returns the human-readable refusal reason.
func (r Refusal) String() string {
	switch r {
	case RefusalNone:
		return "routed"
	case RefusalUnknownMode:
		return "no adapter for mode"
	case RefusalNotReady:
		return "local server not ready"
	default:
		return fmt.Sprintf("Refusal(%d)", r)
	}
}

// Router maps chat modes to adapters.
type Router struct {
	adapters map[model.ChatMode]provider.Adapter
}

// New creates a router with the given adapters, keyed by their Name.
func New(adapters ...provider.Adapter) *Router {
	r := &Router{adapters: make(map[model.ChatMode]provider.Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[model.ChatMode(a.Name())] = a
	}
	return r
}

// NewDefault registers the four standard adapters sharing one HTTP client.
func NewDefault(client *http.Client) *Router {
	return New(
		provider.NewOpenAIAdapter(client),
		provider.NewDeepSeekAdapter(client),
		provider.NewOllamaAdapter(client),
		provider.NewLlamaAdapter(client),
	)
}

// Route returns the adapter for mode, or false when the mode is unknown or
// is local and not ready.
func (r *Router) Route(mode model.ChatMode, ready Readiness) (provider.Adapter, bool) {
	a, why := r.Decide(mode, ready)
	return a, why == RefusalNone
}

// Decide is Route with the refusal reason.
func (r *Router) Decide(mode model.ChatMode, ready Readiness) (provider.Adapter, Refusal) {
	a, ok := r.adapters[mode]
	if !ok {
		return nil, RefusalUnknownMode
	}
	if mode.IsLocal() && !ready.IsServerReady {
		return nil, RefusalNotReady
	}
	return a, RefusalNone
}
