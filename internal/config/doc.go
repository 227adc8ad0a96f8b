// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and provider settings for rigrun-chat.
//
// Two layers exist:
//
//   - Config: the TOML file (~/.rigrun-chat/config.toml) with the data
//     directory, runtime download options and first-run defaults
//   - Settings: the provider settings the user edits while chatting;
//     persisted in the SQLite store with the original snake_case names
//
// # Configuration Precedence
//
//   - Environment variables (RIGRUN_CHAT_*)
//   - ~/.rigrun-chat/config.toml
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	settings := cfg.Defaults
//	_ = settings.Set("temperature", "0.4")
package config
