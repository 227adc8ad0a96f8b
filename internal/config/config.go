// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the rigrun-chat configuration file.
type Config struct {
	Version string `toml:"version" json:"version"`

	// DataDir holds the SQLite database, runtimes and logs.
	DataDir string `toml:"data_dir" json:"data_dir"`

	// LogFile receives diagnostic logging; empty means <data_dir>/rigrun-chat.log.
	LogFile string `toml:"log_file" json:"log_file"`

	Runtime RuntimeConfig `toml:"runtime" json:"runtime"`
	UI      UIConfig      `toml:"ui" json:"ui"`

	// Defaults seeds the provider settings on first run.
	Defaults Settings `toml:"defaults" json:"defaults"`
}

// RuntimeConfig controls local server downloads and HTTP timeouts.
type RuntimeConfig struct {
	LlamaReleaseTag    string `toml:"llama_release_tag" json:"llama_release_tag"`
	DownloadAttempts   int    `toml:"download_attempts" json:"download_attempts"`
	RequestTimeoutSecs int    `toml:"request_timeout_secs" json:"request_timeout_secs"`
}

// UIConfig controls terminal rendering.
type UIConfig struct {
	Markdown bool `toml:"markdown" json:"markdown"`
	WordWrap int  `toml:"word_wrap" json:"word_wrap"`
	ShowMeta bool `toml:"show_meta" json:"show_meta"`
}

// Default returns a configuration with default values.
func Default() *Config {
	dataDir := ""
	if dir, err := ConfigDir(); err == nil {
		dataDir = dir
	}
	return &Config{
		Version: "1",
		DataDir: dataDir,
		Runtime: RuntimeConfig{
			LlamaReleaseTag:    "b6134",
			DownloadAttempts:   3,
			RequestTimeoutSecs: 300,
		},
		UI: UIConfig{
			Markdown: true,
			WordWrap: 80,
			ShowMeta: true,
		},
		Defaults: DefaultSettings(),
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the rigrun-chat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigrun-chat"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	if p := os.Getenv("RIGRUN_CHAT_CONFIG"); p != "" {
		return p, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "rigrun-chat.db")
}

// LogPath returns the diagnostic log location.
func (c *Config) LogPath() string {
	if c.LogFile != "" {
		return c.LogFile
	}
	return filepath.Join(c.DataDir, "rigrun-chat.log")
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files may hold an API key and must be 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the default path, falling back to defaults
// when no file exists. Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		return cfg, err
	}
	if _, statErr := os.Stat(path); statErr != nil {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific file path with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := LoadTOML(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg.
// SECURITY: Checks and fixes file permissions on load.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	fillDefaults(cfg)
	return nil
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaults.DataDir
	}
	if cfg.Runtime.LlamaReleaseTag == "" {
		cfg.Runtime.LlamaReleaseTag = defaults.Runtime.LlamaReleaseTag
	}
	if cfg.Runtime.DownloadAttempts <= 0 {
		cfg.Runtime.DownloadAttempts = defaults.Runtime.DownloadAttempts
	}
	if cfg.Runtime.RequestTimeoutSecs <= 0 {
		cfg.Runtime.RequestTimeoutSecs = defaults.Runtime.RequestTimeoutSecs
	}
	if cfg.UI.WordWrap <= 0 {
		cfg.UI.WordWrap = defaults.UI.WordWrap
	}
	cfg.Defaults.FillDefaults()
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration atomically with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	fmt.Fprintln(&buf, "# rigrun-chat configuration file")
	fmt.Fprintln(&buf, "# Generated by rigrun-chat - edit with care")
	fmt.Fprintln(&buf, "#")
	fmt.Fprintln(&buf, "# [defaults] only seeds provider settings on first run;")
	fmt.Fprintln(&buf, "# later changes are stored in the database.")
	fmt.Fprintln(&buf, "")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.DataDir == "" {
		errs = append(errs, ValidationError{Field: "data_dir", Message: "must not be empty"})
	}
	if c.Runtime.DownloadAttempts < 1 || c.Runtime.DownloadAttempts > 10 {
		errs = append(errs, ValidationError{Field: "runtime.download_attempts", Message: "must be 1-10"})
	}
	if c.UI.WordWrap < 20 {
		errs = append(errs, ValidationError{Field: "ui.word_wrap", Message: "must be at least 20"})
	}
	if err := c.Defaults.Validate(); err != nil {
		if ve, ok := err.(ValidateErrors); ok {
			for _, e := range ve {
				errs = append(errs, ValidationError{Field: "defaults." + e.Field, Message: e.Message})
			}
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies RIGRUN_CHAT_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if dir := os.Getenv("RIGRUN_CHAT_DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
	if mode := os.Getenv("RIGRUN_CHAT_MODE"); mode != "" {
		_ = c.Defaults.Set("mode", mode)
	}
	if key := os.Getenv("RIGRUN_CHAT_API_KEY"); key != "" {
		c.Defaults.APIKey = key
	}
	if base := os.Getenv("RIGRUN_CHAT_API_BASE"); base != "" {
		c.Defaults.APIBase = base
	}
	if url := os.Getenv("RIGRUN_CHAT_OLLAMA_URL"); url != "" {
		c.Defaults.OllamaBase = url
	}
	if port := os.Getenv("RIGRUN_CHAT_SERVER_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			c.Defaults.ServerPort = n
		}
	}
	if tag := os.Getenv("RIGRUN_CHAT_LLAMA_TAG"); tag != "" {
		c.Runtime.LlamaReleaseTag = tag
	}
}

// EnvOverrides returns the process-lifetime setting overrides that apply on
// top of stored settings, keyed by settings key.
func EnvOverrides() map[string]string {
	out := make(map[string]string)
	for env, key := range map[string]string{
		"RIGRUN_CHAT_MODE":        "mode",
		"RIGRUN_CHAT_API_KEY":     "api_key",
		"RIGRUN_CHAT_API_BASE":    "api_base",
		"RIGRUN_CHAT_OLLAMA_URL":  "ollama_base",
		"RIGRUN_CHAT_SERVER_PORT": "server_port",
	} {
		if v := os.Getenv(env); v != "" {
			out[key] = v
		}
	}
	return out
}
