// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package projects

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/state"
	"github.com/jeranaias/rigrun-chat/internal/storage"
)

// fakeController records lifecycle calls.
type fakeController struct {
	store    *state.Store
	checks   int
	starts   int
	stopped  []model.ChatMode
	startErr error
}

func (f *fakeController) CheckBinary(context.Context) (bool, error) {
	f.checks++
	return true, nil
}

func (f *fakeController) Start(context.Context) error {
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.store.Update(func(s *state.State) { s.IsServerReady = true })
	return nil
}

func (f *fakeController) StopMode(_ context.Context, mode model.ChatMode) error {
	f.stopped = append(f.stopped, mode)
	f.store.Update(func(s *state.State) { s.IsServerReady = false })
	return nil
}

type harness struct {
	store *state.Store
	db    *storage.DB
	ctl   *fakeController
	svc   *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "projects.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := state.NewStore(config.DefaultSettings())
	ctl := &fakeController{store: store}
	return &harness{store: store, db: db, ctl: ctl, svc: New(store, db, ctl)}
}

func (h *harness) setSettings(fn func(*config.Settings)) {
	h.store.Update(func(s *state.State) { fn(&s.Settings) })
}

func TestEncode(t *testing.T) {
	s := config.DefaultSettings()
	s.Mode = model.ModeLlama
	s.ServerVariant = "vulkan"
	s.ServerPort = 9001
	s.ModelRepo = "org/repo:Q4_K_M"

	p := Encode("local", s)
	assert.Equal(t, model.ProviderLlama, p.Provider)
	assert.Equal(t, "llama.cpp:vulkan:9001", p.Server)
	assert.Equal(t, "org/repo:Q4_K_M", p.Model)
	assert.Equal(t, model.LocalServerRef{Variant: "vulkan", Port: 9001}, model.DecodeLocalServer(p))

	s.Mode = model.ModeOpenAI
	p = Encode("hosted", s)
	assert.Equal(t, model.Project{Name: "hosted", WorkMode: model.ModeOpenAI, Provider: model.ProviderOpenAI,
		Server: config.DefaultAPIBase, Model: config.DefaultAPIModel}, p)
}

func TestSaveActivate_RoundTripAllModes(t *testing.T) {
	tests := []struct {
		mode   model.ChatMode
		mutate func(*config.Settings)
		local  bool
	}{
		{model.ModeOpenAI, func(s *config.Settings) {
			s.APIBase = "https://openrouter.ai/api/v1"
			s.APIModel = "meta-llama/llama-3-70b"
		}, false},
		{model.ModeDeepSeek, func(s *config.Settings) {
			s.DeepSeekURL = "https://proxy.example.com/chat/completions"
			s.DeepSeekModel = "deepseek-reasoner"
		}, false},
		{model.ModeOllama, func(s *config.Settings) {
			s.OllamaBase = "http://10.0.0.5:11434"
			s.OllamaModel = "qwen2.5:7b"
		}, true},
		{model.ModeLlama, func(s *config.Settings) {
			s.ServerVariant = "cuda_12"
			s.ServerPort = 8181
			s.ModelRepo = "bartowski/Qwen2.5-7B-Instruct-GGUF:Q6_K"
		}, true},
		{model.ModeLlama, func(s *config.Settings) {
			s.ServerVariant = "vulkan"
			s.ServerPort = 9002
			s.ModelRepo = ""
			s.ModelFile = "/models/a.gguf"
		}, true},
	}
	for i, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", i, tt.mode), func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()

			h.setSettings(func(s *config.Settings) {
				s.Mode = tt.mode
				tt.mutate(s)
			})
			want := h.store.Settings()

			id, err := h.svc.Save(ctx, "  snapshot  ")
			require.NoError(t, err)
			st := h.store.Get()
			assert.Equal(t, id, st.ActiveProjectID)
			require.Len(t, st.Projects, 1)
			assert.Equal(t, "snapshot", st.Projects[0].Name)
			assert.Zero(t, h.ctl.starts, "save never starts a server")

			// Scramble the settings, then restore from the project.
			h.store.Update(func(s *state.State) {
				s.Settings = config.DefaultSettings()
				s.Settings.Mode = model.ModeDeepSeek
				s.Settings.ModelFile = "/models/other.gguf"
				s.Projects = nil
				s.ActiveProjectID = 0
			})

			require.NoError(t, h.svc.Activate(ctx, id))
			got := h.store.Settings()
			assert.Equal(t, want, got)

			persisted, err := h.db.LoadSettings(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.mode, persisted.Mode)

			if tt.local {
				assert.Equal(t, 1, h.ctl.checks)
				assert.Equal(t, 1, h.ctl.starts)
				assert.True(t, h.store.Get().IsServerReady)
			} else {
				assert.Zero(t, h.ctl.starts)
				assert.False(t, h.store.Get().IsServerReady)
			}
			assert.Equal(t, id, h.store.Get().ActiveProjectID)
		})
	}
}

func TestActivate_StopsRunningLocalServer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.setSettings(func(s *config.Settings) { s.Mode = model.ModeOpenAI })
	id, err := h.svc.Save(ctx, "hosted")
	require.NoError(t, err)

	h.store.Update(func(s *state.State) {
		s.Settings.Mode = model.ModeLlama
		s.IsServerReady = true
	})
	require.NoError(t, h.svc.Activate(ctx, id))
	assert.Equal(t, []model.ChatMode{model.ModeLlama}, h.ctl.stopped)
	assert.False(t, h.store.Get().IsServerReady)
}

func TestActivate_LoadsProjectPromptsAsUserMessages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id, err := h.svc.Save(ctx, "with prompts")
	require.NoError(t, err)
	require.NoError(t, h.db.SaveProjectPrompt(ctx, id, "first"))
	require.NoError(t, h.db.SaveProjectPrompt(ctx, id, "second"))
	h.store.AppendMessage(model.NewAssistantMessage("stale", nil))

	require.NoError(t, h.svc.Activate(ctx, id))
	msgs := h.store.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Text)
	assert.Equal(t, "second", msgs[1].Text)
	for _, m := range msgs {
		assert.Equal(t, model.SenderUser, m.Sender)
	}
}

func TestActivate_StartFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ctl.startErr = errors.New("llama-server not found")

	h.setSettings(func(s *config.Settings) { s.Mode = model.ModeLlama })
	id, err := h.svc.Save(ctx, "local")
	require.NoError(t, err)
	assert.NoError(t, h.svc.Activate(ctx, id))
	assert.Equal(t, 1, h.ctl.starts)
}

func TestActivate_LegacyServerStringFallsBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id, err := h.db.SaveProject(ctx, model.Project{
		Name: "legacy", WorkMode: model.ModeLlama, Provider: model.ProviderLlama,
		Server: "llama-cpp/vulkan@9000", Model: "org/repo",
	})
	require.NoError(t, err)
	h.setSettings(func(s *config.Settings) {
		s.ServerVariant = "hip_radeon"
		s.ServerPort = 1234
	})

	require.NoError(t, h.svc.Activate(ctx, id))
	s := h.store.Settings()
	assert.Equal(t, "cpu", s.ServerVariant)
	assert.Equal(t, 8080, s.ServerPort)
	assert.Equal(t, "org/repo", s.ModelRepo)
}

func TestActivate_UnknownProject(t *testing.T) {
	h := newHarness(t)
	err := h.svc.Activate(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadAndDelete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.setSettings(func(s *config.Settings) { s.Mode = model.ModeOllama })
	a, err := h.svc.Save(ctx, "a")
	require.NoError(t, err)
	h.setSettings(func(s *config.Settings) { s.Mode = model.ModeOpenAI })
	b, err := h.svc.Save(ctx, "b")
	require.NoError(t, err)

	rows, err := h.svc.Load(ctx, model.ModeOllama)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, a, rows[0].ID)

	_, err = h.svc.Load(ctx, "")
	require.NoError(t, err)
	assert.Len(t, h.svc.List(), 2)

	require.NoError(t, h.svc.Delete(ctx, b))
	assert.Len(t, h.svc.List(), 1)
	assert.Zero(t, h.store.Get().ActiveProjectID, "deleting the active project clears it")

	assert.Error(t, h.svc.Delete(ctx, b))
}

func TestSave_EmptyName(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Save(context.Background(), "   ")
	assert.ErrorIs(t, err, storage.ErrEmptyProjectName)
}

func TestExport(t *testing.T) {
	projects := []model.Project{{ID: 1, Name: "a", WorkMode: model.ModeOpenAI, Provider: model.ProviderOpenAI, Server: "https://x", Model: "gpt"}}

	var buf bytes.Buffer
	require.NoError(t, Export(&buf, projects, "json"))
	var decoded []model.Project
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "a", decoded[0].Name)

	buf.Reset()
	require.NoError(t, Export(&buf, projects, "YAML"))
	var generic []map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &generic))
	assert.Equal(t, "openai", generic[0]["work_mode"])

	buf.Reset()
	require.NoError(t, Export(&buf, nil, ""))
	assert.Equal(t, "[]\n", buf.String())

	assert.Error(t, Export(&buf, projects, "xml"))
}
