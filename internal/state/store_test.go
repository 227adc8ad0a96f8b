// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package state

import (
	"sync"
	"testing"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_UpdateNotifiesAtomically(t *testing.T) {
	store := NewStore(config.DefaultSettings())

	var seen []State
	release := store.Subscribe(func(s State) { seen = append(seen, s) })
	defer release()

	store.Update(func(s *State) {
		s.IsServerReady = true
		s.DownloadStatus = model.CompletedStatus("Server successfully started")
	})

	require.Len(t, seen, 1)
	assert.True(t, seen[0].IsServerReady)
	assert.Equal(t, 100, seen[0].DownloadStatus.Progress)
}

func TestStore_NormalizesDownloadStatus(t *testing.T) {
	store := NewStore(config.DefaultSettings())
	store.SetDownloadStatus(model.DownloadStatus{Status: model.PhaseIdle, Progress: 55})
	assert.Equal(t, 0, store.Get().DownloadStatus.Progress)

	store.SetDownloadStatus(model.DownloadStatus{Status: model.PhaseCompleted, Progress: 10})
	assert.Equal(t, 100, store.Get().DownloadStatus.Progress)
}

func TestStore_UpdateIf(t *testing.T) {
	store := NewStore(config.DefaultSettings())
	notified := 0
	release := store.Subscribe(func(State) { notified++ })
	defer release()

	begin := func(s *State) bool {
		if s.IsStartingServer {
			return false
		}
		s.IsStartingServer = true
		return true
	}

	assert.True(t, store.UpdateIf(begin))
	assert.False(t, store.UpdateIf(begin))
	assert.Equal(t, 1, notified)
}

func TestStore_SnapshotsAreIsolated(t *testing.T) {
	store := NewStore(config.DefaultSettings())
	store.AppendMessage(model.NewUserMessage("one"))

	snap := store.Get()
	snap.Messages[0].Text = "mutated"
	snap.Messages = append(snap.Messages, model.NewUserMessage("two"))

	msgs := store.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "one", msgs[0].Text)
}

func TestStore_PatchMessageText(t *testing.T) {
	store := NewStore(config.DefaultSettings())
	store.AppendMessage(model.NewUserMessage("draft"))

	assert.True(t, store.PatchMessageText(0, "final"))
	assert.False(t, store.PatchMessageText(3, "nope"))
	assert.Equal(t, "final", store.Messages()[0].Text)
}

func TestStore_ConcurrentAppends(t *testing.T) {
	store := NewStore(config.DefaultSettings())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.AppendMessage(model.NewUserMessage("x"))
		}()
	}
	wg.Wait()
	assert.Len(t, store.Messages(), 50)
}

func TestStore_ReleaseStopsNotifications(t *testing.T) {
	store := NewStore(config.DefaultSettings())
	calls := 0
	release := store.Subscribe(func(State) { calls++ })
	release()
	release()
	store.ClearMessages()
	assert.Equal(t, 0, calls)
}
