// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package projects saves the current provider configuration as a named
// project and replays a project back into settings and the local server.
package projects

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/state"
	"github.com/jeranaias/rigrun-chat/internal/storage"
)

// ErrNotFound is returned by Activate for an unknown id.
var ErrNotFound = errors.New("project not found")

// =============================================================================
// COLLABORATORS
// =============================================================================

// Repository persists projects, their prompts and the settings.
type Repository interface {
	ListProjects(ctx context.Context, workMode model.ChatMode) ([]model.Project, error)
	SaveProject(ctx context.Context, p model.Project) (int64, error)
	DeleteProject(ctx context.Context, id int64) error
	ListProjectPrompts(ctx context.Context, projectID int64, limit int) ([]storage.Prompt, error)
	SaveSettings(ctx context.Context, s config.Settings) error
}

// Controller drives the local server of the current mode.
type Controller interface {
	CheckBinary(ctx context.Context) (bool, error)
	Start(ctx context.Context) error
	StopMode(ctx context.Context, mode model.ChatMode) error
}

// =============================================================================
// ENCODING
// =============================================================================

// Encode maps the mode-specific settings onto a project.
func Encode(name string, s config.Settings) model.Project {
	p := model.Project{Name: name, WorkMode: s.Mode}
	switch s.Mode {
	case model.ModeOpenAI:
		p.Provider, p.Server, p.Model = model.ProviderOpenAI, s.APIBase, s.APIModel
	case model.ModeDeepSeek:
		p.Provider, p.Server, p.Model = model.ProviderDeepSeek, s.DeepSeekURL, s.DeepSeekModel
	case model.ModeOllama:
		p.Provider, p.Server, p.Model = model.ProviderOllama, s.OllamaBase, s.OllamaModel
	case model.ModeLlama:
		ref := s.LocalServer()
		p.Provider, p.Server, p.Model = model.ProviderLlama, ref.String(), s.ModelRepo
		p.Meta = ref.MetaJSON()
	default:
		p.Provider = string(s.Mode)
		p.Server = firstNonEmpty(s.APIBase, s.DeepSeekURL, s.OllamaBase)
		p.Model = firstNonEmpty(s.APIModel, s.DeepSeekModel, s.OllamaModel, s.ModelRepo)
	}
	return p
}

// Apply replays p into s, the inverse of Encode, and switches s.Mode to
// the project's mode. Undecodable local server references fall back to
// cpu on port 8080.
func Apply(p model.Project, s *config.Settings) {
	switch p.WorkMode {
	case model.ModeOpenAI:
		s.APIBase, s.APIModel = p.Server, p.Model
	case model.ModeDeepSeek:
		s.DeepSeekURL, s.DeepSeekModel = p.Server, p.Model
	case model.ModeOllama:
		s.OllamaBase, s.OllamaModel = p.Server, p.Model
	case model.ModeLlama:
		ref := model.DecodeLocalServer(p)
		s.ServerVariant, s.ServerPort, s.ModelRepo = ref.Variant, ref.Port, p.Model
		s.ModelFile = ref.ModelFile
	}
	s.Mode = p.WorkMode
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// =============================================================================
// SERVICE
// =============================================================================

// Service implements save, activate, load and delete over the store.
type Service struct {
	store *state.Store
	repo  Repository
	ctl   Controller
}

// New creates a project service.
func New(store *state.Store, repo Repository, ctl Controller) *Service {
	return &Service{store: store, repo: repo, ctl: ctl}
}

// List returns the cached project list.
func (s *Service) List() []model.Project {
	return s.store.Get().Projects
}

// Load refreshes the cached list, optionally filtered by workMode.
func (s *Service) Load(ctx context.Context, workMode model.ChatMode) ([]model.Project, error) {
	rows, err := s.repo.ListProjects(ctx, workMode)
	if err != nil {
		log.Printf("projects: list_projects failed: %v", err)
		return nil, err
	}
	s.store.Update(func(st *state.State) { st.Projects = rows })
	return rows, nil
}

// Save stores the current configuration as name, reloads the list and
// marks the new project active without starting any server.
func (s *Service) Save(ctx context.Context, name string) (int64, error) {
	p := Encode(strings.TrimSpace(name), s.store.Settings())
	id, err := s.repo.SaveProject(ctx, p)
	if err != nil {
		return 0, fmt.Errorf("save project: %w", err)
	}
	if _, err := s.Load(ctx, ""); err != nil {
		log.Printf("projects: reload after save failed: %v", err)
	}
	s.store.Update(func(st *state.State) { st.ActiveProjectID = id })
	return id, nil
}

// Delete removes a project and drops it from the cached list.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.repo.DeleteProject(ctx, id); err != nil {
		return fmt.Errorf("delete project %d: %w", id, err)
	}
	s.store.Update(func(st *state.State) {
		kept := st.Projects[:0]
		for _, p := range st.Projects {
			if p.ID != id {
				kept = append(kept, p)
			}
		}
		st.Projects = kept
		if st.ActiveProjectID == id {
			st.ActiveProjectID = 0
		}
	})
	return nil
}

// Activate switches to project id: it stops a running local server,
// replays the project into settings, persists them, starts the server of
// a local mode and replaces the chat log with the project's saved prompts.
// Server and persistence failures are logged; only an unknown id fails.
func (s *Service) Activate(ctx context.Context, id int64) error {
	p, ok := s.find(id)
	if !ok {
		if _, err := s.Load(ctx, ""); err != nil {
			return err
		}
		if p, ok = s.find(id); !ok {
			return fmt.Errorf("%w: %d", ErrNotFound, id)
		}
	}

	prev := s.store.Get()
	if prev.Settings.Mode.IsLocal() && prev.IsServerReady {
		if err := s.ctl.StopMode(ctx, prev.Settings.Mode); err != nil {
			log.Printf("projects: stopping %s server failed: %v", prev.Settings.Mode, err)
		}
	}

	var settings config.Settings
	s.store.Update(func(st *state.State) {
		Apply(p, &st.Settings)
		settings = st.Settings
	})
	if err := s.repo.SaveSettings(ctx, settings); err != nil {
		log.Printf("projects: persisting settings failed: %v", err)
	}

	if p.WorkMode.IsLocal() {
		if _, err := s.ctl.CheckBinary(ctx); err != nil {
			log.Printf("projects: install check failed: %v", err)
		}
		if err := s.ctl.Start(ctx); err != nil {
			log.Printf("projects: start server after activate failed: %v", err)
		}
	} else {
		s.store.Update(func(st *state.State) { st.IsServerReady = false })
	}

	var msgs []model.Message
	rows, err := s.repo.ListProjectPrompts(ctx, p.ID, 0)
	if err != nil {
		log.Printf("projects: list_project_prompts failed: %v", err)
	}
	for _, r := range rows {
		m := model.NewUserMessage(r.Content)
		if !r.CreatedAt.IsZero() {
			m.CreatedAt = r.CreatedAt
		}
		msgs = append(msgs, m)
	}
	s.store.Update(func(st *state.State) {
		st.Messages = msgs
		st.ActiveProjectID = p.ID
	})
	return nil
}

func (s *Service) find(id int64) (model.Project, bool) {
	for _, p := range s.store.Get().Projects {
		if p.ID == id {
			return p, true
		}
	}
	return model.Project{}, false
}
