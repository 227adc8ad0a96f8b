// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// =============================================================================
// PROJECT TYPE
// =============================================================================

// Provider names stored in Project.Provider.
const (
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
	ProviderOllama   = "ollama"
	ProviderLlama    = "llama"
)

// Project is a named, persisted snapshot of provider configuration.
// Provider, Server and Model together rebuild the settings of the mode.
type Project struct {
	ID        int64     `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	WorkMode  ChatMode  `json:"work_mode" yaml:"work_mode"`
	Provider  string    `json:"provider" yaml:"provider"`
	Server    string    `json:"server" yaml:"server"`
	Model     string    `json:"model" yaml:"model"`
	Meta      string    `json:"meta,omitempty" yaml:"meta,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// =============================================================================
// LOCAL SERVER REFERENCE
// =============================================================================

// Fallbacks applied when a stored local server reference cannot be decoded.
const (
	DefaultServerVariant = "cpu"
	DefaultServerPort    = 8080
)

var localServerPattern = regexp.MustCompile(`^llama\.cpp:([^:]+):(\d+)$`)

// LocalServerRef is the structured form of a local llama.cpp server setting.
// ModelFile is a local model path that takes precedence over the repo; it
// only survives in Meta, the legacy server string cannot carry it.
type LocalServerRef struct {
	Variant   string `json:"variant"`
	Port      int    `json:"port"`
	ModelFile string `json:"model_file,omitempty"`
}

// projectMeta is the JSON document stored in Project.Meta.
type projectMeta struct {
	Local *LocalServerRef `json:"local_server,omitempty"`
}

// String returns the legacy delimited encoding, llama.cpp:<variant>:<port>.
func (r LocalServerRef) String() string {
	return fmt.Sprintf("llama.cpp:%s:%d", r.Variant, r.Port)
}

// MetaJSON returns the Project.Meta document carrying the reference.
func (r LocalServerRef) MetaJSON() string {
	data, err := json.Marshal(projectMeta{Local: &r})
	if err != nil {
		return ""
	}
	return string(data)
}

// DecodeLocalServer recovers a LocalServerRef from a project. The structured
// Meta record wins; otherwise the legacy server string is parsed. Anything
// unparseable silently falls back to cpu on port 8080.
func DecodeLocalServer(p Project) LocalServerRef {
	if p.Meta != "" {
		var meta projectMeta
		if err := json.Unmarshal([]byte(p.Meta), &meta); err == nil && meta.Local != nil &&
			meta.Local.Variant != "" && meta.Local.Port > 0 {
			return *meta.Local
		}
	}
	return ParseLocalServer(p.Server)
}

// ParseLocalServer parses the legacy llama.cpp:<variant>:<port> string.
func ParseLocalServer(s string) LocalServerRef {
	ref := LocalServerRef{Variant: DefaultServerVariant, Port: DefaultServerPort}
	m := localServerPattern.FindStringSubmatch(s)
	if m == nil {
		return ref
	}
	port, err := strconv.Atoi(m[2])
	if err != nil || port <= 0 || port > 65535 {
		return ref
	}
	ref.Variant = m[1]
	ref.Port = port
	return ref
}
