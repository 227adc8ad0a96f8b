// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package state holds the observable application state: settings, the chat
// log, local server readiness and the project list.
//
// All writes go through Store.Update, whose changes subscribers observe
// together. Readers take snapshots with Store.Get.
package state

import (
	"sync"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// STATE
// =============================================================================

// State is one consistent snapshot of the application.
type State struct {
	Settings config.Settings

	// Messages is the append-only chat log.
	Messages []model.Message

	// DownloadStatus tracks the current install or server start.
	DownloadStatus   model.DownloadStatus
	HasBinary        bool
	IsServerReady    bool
	IsStartingServer bool

	Projects []model.Project
	// ActiveProjectID is advisory; zero means no project.
	ActiveProjectID int64
}

func (s State) clone() State {
	s.Messages = append([]model.Message(nil), s.Messages...)
	s.Projects = append([]model.Project(nil), s.Projects...)
	return s
}

// =============================================================================
// STORE
// =============================================================================

// Listener observes state after every committed update. Listeners run
// synchronously and must not call Update.
type Listener func(State)

// Store is the single state container.
type Store struct {
	mu    sync.RWMutex
	state State

	seq       uint64
	listeners map[uint64]Listener
	nextID    uint64

	notifyMu  sync.Mutex
	delivered uint64
}

// NewStore creates a store seeded with settings.
func NewStore(settings config.Settings) *Store {
	return &Store{
		state: State{
			Settings:       settings,
			DownloadStatus: model.IdleStatus(),
		},
		listeners: make(map[uint64]Listener),
	}
}

// Get returns a snapshot of the current state.
func (s *Store) Get() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Update applies fn atomically and notifies listeners.
func (s *Store) Update(fn func(*State)) {
	s.UpdateIf(func(st *State) bool {
		fn(st)
		return true
	})
}

// UpdateIf applies fn atomically. When fn returns false the state is left
// unchanged, listeners are not notified and UpdateIf returns false.
func (s *Store) UpdateIf(fn func(*State) bool) bool {
	s.mu.Lock()
	next := s.state.clone()
	if !fn(&next) {
		s.mu.Unlock()
		return false
	}
	next.DownloadStatus = next.DownloadStatus.Normalize()
	s.state = next
	s.seq++
	seq := s.seq
	snapshot := next.clone()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	// A newer commit already reached listeners; never deliver an older one.
	if seq < s.delivered {
		return true
	}
	s.delivered = seq
	for _, l := range listeners {
		l(snapshot)
	}
	return true
}

// Subscribe registers l and returns its idempotent release func.
func (s *Store) Subscribe(l Listener) (release func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = l
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// =============================================================================
// CONVENIENCE ACCESSORS
// =============================================================================

// Settings returns the current settings.
func (s *Store) Settings() config.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Settings
}

// Messages returns a copy of the chat log.
func (s *Store) Messages() []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Message(nil), s.state.Messages...)
}

// AppendMessage appends one message to the chat log.
func (s *Store) AppendMessage(m model.Message) {
	s.Update(func(st *State) {
		st.Messages = append(st.Messages, m)
	})
}

// PatchMessageText rewrites the text of an existing entry by index. It is the
// only mutation of past entries and exists for extensions; it reports false
// for an out-of-range index.
func (s *Store) PatchMessageText(index int, text string) bool {
	return s.UpdateIf(func(st *State) bool {
		if index < 0 || index >= len(st.Messages) {
			return false
		}
		st.Messages[index].Text = text
		return true
	})
}

// ClearMessages empties the chat log.
func (s *Store) ClearMessages() {
	s.Update(func(st *State) {
		st.Messages = nil
	})
}

// SetDownloadStatus replaces the download status.
func (s *Store) SetDownloadStatus(ds model.DownloadStatus) {
	s.Update(func(st *State) {
		st.DownloadStatus = ds
	})
}
