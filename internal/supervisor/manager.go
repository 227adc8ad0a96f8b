// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package supervisor

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/state"
)

// ErrNotLocalMode is returned for install/start requests in a hosted mode.
var ErrNotLocalMode = errors.New("current mode has no local server")

// Manager dispatches lifecycle requests to the supervisor of the current
// chat mode.
type Manager struct {
	store *state.Store
	sups  map[model.ServerKind]Supervisor
}

// NewManager registers sups by Kind.
func NewManager(store *state.Store, sups ...Supervisor) *Manager {
	m := &Manager{store: store, sups: make(map[model.ServerKind]Supervisor, len(sups))}
	for _, s := range sups {
		m.sups[s.Kind()] = s
	}
	return m
}

// NewDefaultManager wires the llama.cpp and Ollama supervisors.
func NewDefaultManager(store *state.Store, rt Runtime, bus Events) *Manager {
	return NewManager(store, NewLlamaSupervisor(store, rt, bus), NewOllamaSupervisor(store, rt, bus))
}

// For returns the supervisor backing mode.
func (m *Manager) For(mode model.ChatMode) (Supervisor, bool) {
	kind, ok := mode.ServerKind()
	if !ok {
		return nil, false
	}
	s, ok := m.sups[kind]
	return s, ok
}

func (m *Manager) current() (Supervisor, error) {
	mode := m.store.Settings().Mode
	s, ok := m.For(mode)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotLocalMode, mode)
	}
	return s, nil
}

// CheckBinary refreshes HasBinary for the current mode. Hosted modes have
// no binary; their status is reset unless an install is running.
func (m *Manager) CheckBinary(ctx context.Context) (bool, error) {
	s, err := m.current()
	if err != nil {
		m.store.Update(func(st *state.State) {
			st.HasBinary = false
			if !st.DownloadStatus.IsBusy() {
				st.DownloadStatus = model.IdleStatus()
			}
		})
		return false, nil
	}
	return s.CheckInstalled(ctx)
}

// Install installs variant of the current mode's server for the
// configured target OS.
func (m *Manager) Install(ctx context.Context, variant string) error {
	s, err := m.current()
	if err != nil {
		return err
	}
	return s.Install(ctx, variant, m.store.Settings().ServerOS)
}

// Start starts the current mode's server.
func (m *Manager) Start(ctx context.Context) error {
	s, err := m.current()
	if err != nil {
		return err
	}
	return s.Start(ctx)
}

// Attach adopts an already running server of the current mode.
func (m *Manager) Attach(ctx context.Context) bool {
	s, err := m.current()
	if err != nil {
		return false
	}
	return s.Attach(ctx)
}

// Stop stops the current mode's server.
func (m *Manager) Stop(ctx context.Context) error {
	s, err := m.current()
	if err != nil {
		return err
	}
	return s.Stop(ctx)
}

// StopMode stops the server of mode, if it has one.
func (m *Manager) StopMode(ctx context.Context, mode model.ChatMode) error {
	s, ok := m.For(mode)
	if !ok {
		return nil
	}
	return s.Stop(ctx)
}
