// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/detect"
	"github.com/jeranaias/rigrun-chat/internal/storage"
)

// settingsRepo persists settings without the process-lifetime environment
// overrides: an overridden key is written back with its stored value.
type settingsRepo struct {
	*storage.DB

	overrides map[string]string

	mu   sync.Mutex
	base config.Settings
}

// load returns the settings for this process and whether this is the first
// run. First-run settings come from cfg.Defaults plus the recommended
// server variant and are stored before overrides apply.
func (r *settingsRepo) load(ctx context.Context, cfg *config.Config, recommend func(context.Context) detect.Recommendation) (config.Settings, bool, error) {
	s, err := r.DB.LoadSettings(ctx)
	first := false
	switch {
	case errors.Is(err, storage.ErrSettingsNotFound):
		first = true
		s = cfg.Defaults
		s.FillDefaults()
		if s.ServerVariant == config.DefaultServerVariant && recommend != nil {
			rec := recommend(ctx)
			if rec.Variant != "" {
				log.Printf("app: default server variant %s (%s)", rec.Variant, rec.Reason)
				s.ServerVariant = rec.Variant
			}
		}
		if err := r.DB.SaveSettings(ctx, s); err != nil {
			log.Printf("app: persisting first-run settings failed: %v", err)
		}
	case err != nil:
		return config.Settings{}, false, fmt.Errorf("failed to load settings: %w", err)
	}

	r.mu.Lock()
	r.base = s
	r.mu.Unlock()

	for key, value := range r.overrides {
		if err := s.Set(key, value); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: ignoring override for %s: %v\n", key, err)
		}
	}
	return s, first, nil
}

// SaveSettings stores s with overridden keys restored from the last
// persisted settings.
func (r *settingsRepo) SaveSettings(ctx context.Context, s config.Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.overrides {
		v, err := r.base.Get(key)
		if err != nil {
			continue
		}
		if err := s.Set(key, fmt.Sprint(v)); err != nil {
			log.Printf("app: restoring %s before save failed: %v", key, err)
		}
	}
	if err := r.DB.SaveSettings(ctx, s); err != nil {
		return err
	}
	r.base = s
	return nil
}
