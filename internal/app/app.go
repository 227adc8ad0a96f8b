// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package app is the composition root: it opens storage, seeds the state
// store and wires the host, router, supervisors, session and projects.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/detect"
	"github.com/jeranaias/rigrun-chat/internal/events"
	"github.com/jeranaias/rigrun-chat/internal/host"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/projects"
	"github.com/jeranaias/rigrun-chat/internal/router"
	"github.com/jeranaias/rigrun-chat/internal/secret"
	"github.com/jeranaias/rigrun-chat/internal/session"
	"github.com/jeranaias/rigrun-chat/internal/state"
	"github.com/jeranaias/rigrun-chat/internal/storage"
	"github.com/jeranaias/rigrun-chat/internal/supervisor"
)

// PassphraseEnv switches API-key sealing to a password-derived key.
const PassphraseEnv = "RIGRUN_CHAT_PASSPHRASE"

// =============================================================================
// OPTIONS
// =============================================================================

type options struct {
	hostOpts   []host.Option
	recommend  func(ctx context.Context) detect.Recommendation
	attach     bool
	passphrase string
	dbPath     string
}

// Option configures Open.
type Option func(*options)

// WithHostOptions passes options through to host.New.
func WithHostOptions(opts ...host.Option) Option {
	return func(o *options) { o.hostOpts = append(o.hostOpts, opts...) }
}

// WithRecommender replaces GPU detection for the first-run variant.
func WithRecommender(fn func(ctx context.Context) detect.Recommendation) Option {
	return func(o *options) { o.recommend = fn }
}

// WithoutAttach skips adopting an already running local server on Open.
func WithoutAttach() Option {
	return func(o *options) { o.attach = false }
}

// WithDatabasePath overrides cfg.DatabasePath, e.g. ":memory:".
func WithDatabasePath(path string) Option {
	return func(o *options) { o.dbPath = path }
}

func defaultRecommend(ctx context.Context) detect.Recommendation {
	return detect.RecommendVariant(detect.DetectGPUCached(ctx), runtime.GOOS, runtime.GOARCH)
}

// =============================================================================
// APP
// =============================================================================

// App holds the wired components. Close releases them.
type App struct {
	Config   *config.Config
	DB       *storage.DB
	Store    *state.Store
	Bus      *events.Bus
	Host     *host.Host
	Router   *router.Router
	Servers  *supervisor.Manager
	Session  *session.Session
	Projects *projects.Service

	settings *settingsRepo
	// FirstRun is true when no settings had been stored before Open.
	FirstRun bool
}

// Open wires the application from cfg.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{
		recommend:  defaultRecommend,
		attach:     true,
		passphrase: os.Getenv(PassphraseEnv),
		dbPath:     cfg.DatabasePath(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	sealer, err := secret.NewSealer(cfg.DataDir, o.passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize api key sealing: %w", err)
	}
	db, err := storage.Open(o.dbPath, storage.WithSealer(sealer))
	if err != nil {
		return nil, err
	}

	repo := &settingsRepo{DB: db, overrides: config.EnvOverrides()}
	settings, first, err := repo.load(ctx, cfg, o.recommend)
	if err != nil {
		db.Close()
		return nil, err
	}

	store := state.NewStore(settings)
	bus := events.NewBus()
	h := host.New(cfg.DataDir, cfg.Runtime, bus, o.hostOpts...)
	client := &http.Client{Timeout: time.Duration(cfg.Runtime.RequestTimeoutSecs) * time.Second}
	r := router.NewDefault(client)
	mgr := supervisor.NewDefaultManager(store, h, bus)

	a := &App{
		Config:   cfg,
		DB:       db,
		Store:    store,
		Bus:      bus,
		Host:     h,
		Router:   r,
		Servers:  mgr,
		Session:  session.New(store, r, h, db),
		Projects: projects.New(store, repo, mgr),
		settings: repo,
		FirstRun: first,
	}

	if _, err := a.Projects.Load(ctx, ""); err != nil {
		log.Printf("app: loading projects failed: %v", err)
	}
	a.Refresh(ctx, o.attach)
	return a, nil
}

// Close releases the host and the database. Local servers keep running;
// stop them explicitly.
func (a *App) Close() error {
	return errors.Join(a.Host.Close(), a.DB.Close())
}

// Refresh re-runs the install check for a local mode and, when attach is
// set, adopts a server an earlier invocation left running.
func (a *App) Refresh(ctx context.Context, attach bool) {
	if !a.Store.Settings().Mode.IsLocal() {
		return
	}
	if _, err := a.Servers.CheckBinary(ctx); err != nil {
		log.Printf("app: install check failed: %v", err)
	}
	if attach && a.Servers.Attach(ctx) {
		log.Printf("app: adopted running %s server", a.Store.Settings().Mode)
	}
}

// SetMode switches the chat mode: readiness and the download status are
// reset, the install check runs for a local mode and settings persist.
func (a *App) SetMode(ctx context.Context, mode model.ChatMode) error {
	var settings config.Settings
	a.Store.Update(func(s *state.State) {
		s.Settings.Mode = mode
		s.IsServerReady = false
		if !s.IsStartingServer {
			s.DownloadStatus = model.IdleStatus()
		}
		settings = s.Settings
	})
	if mode.IsLocal() {
		if _, err := a.Servers.CheckBinary(ctx); err != nil {
			log.Printf("app: install check failed: %v", err)
		}
	}
	return a.settings.SaveSettings(ctx, settings)
}

// UseMode switches the mode for this process only and adopts a running
// local server of the new mode.
func (a *App) UseMode(ctx context.Context, mode model.ChatMode) {
	a.Store.Update(func(s *state.State) {
		s.Settings.Mode = mode
		s.IsServerReady = false
		if !s.IsStartingServer {
			s.DownloadStatus = model.IdleStatus()
		}
	})
	a.Refresh(ctx, true)
}

// Set assigns one setting by key, validates the result and persists it.
// The mode key goes through SetMode.
func (a *App) Set(ctx context.Context, key, value string) error {
	next := a.Store.Settings()
	if err := next.Set(key, value); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	if normalizeKey(key) == "mode" {
		return a.SetMode(ctx, next.Mode)
	}
	a.Store.Update(func(s *state.State) { s.Settings = next })
	return a.settings.SaveSettings(ctx, next)
}

// Overridden reports whether key is pinned by an environment variable for
// this process.
func (a *App) Overridden(key string) bool {
	_, ok := a.settings.overrides[normalizeKey(key)]
	return ok
}

func normalizeKey(key string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), "-", "_")
}
