// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jeranaias/rigrun-chat/internal/config"
)

// LoadSettings returns the stored settings with defaults filled in.
// It returns ErrSettingsNotFound when nothing was saved yet.
func (d *DB) LoadSettings(ctx context.Context) (config.Settings, error) {
	var payload string
	err := d.db.QueryRowContext(ctx, "SELECT payload FROM settings WHERE id = 1").Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return config.Settings{}, ErrSettingsNotFound
	}
	if err != nil {
		return config.Settings{}, fmt.Errorf("failed to load settings: %w", err)
	}

	var s config.Settings
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return config.Settings{}, fmt.Errorf("failed to decode settings: %w", err)
	}
	if d.sealer != nil {
		key, err := d.sealer.Open(s.APIKey)
		if err != nil {
			return config.Settings{}, fmt.Errorf("failed to unseal api key: %w", err)
		}
		s.APIKey = key
	}
	s.FillDefaults()
	return s, nil
}

// SaveSettings stores s, sealing the API key when a sealer is configured.
func (d *DB) SaveSettings(ctx context.Context, s config.Settings) error {
	if d.sealer != nil {
		sealed, err := d.sealer.Seal(s.APIKey)
		if err != nil {
			return fmt.Errorf("failed to seal api key: %w", err)
		}
		s.APIKey = sealed
	}

	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO settings (id, payload, updated_at) VALUES (1, ?, datetime('now'))
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		string(payload))
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
