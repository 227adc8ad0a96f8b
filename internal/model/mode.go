// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strings"
)

// =============================================================================
// CHAT MODE
// =============================================================================

// ChatMode identifies the active chat provider. Exactly one is active at a time.
type ChatMode string

const (
	// ModeOpenAI is any hosted OpenAI-compatible endpoint.
	ModeOpenAI ChatMode = "openai"
	// ModeDeepSeek is the hosted DeepSeek API.
	ModeDeepSeek ChatMode = "deepseek"
	// ModeLlama is a locally spawned llama.cpp server.
	ModeLlama ChatMode = "local"
	// ModeOllama is a locally spawned Ollama server.
	ModeOllama ChatMode = "ollama"
)

// AllModes lists every mode in display order.
var AllModes = []ChatMode{ModeOpenAI, ModeDeepSeek, ModeLlama, ModeOllama}

// ParseChatMode converts user input into a ChatMode.
func ParseChatMode(s string) (ChatMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openai", "hosted-openai-compatible":
		return ModeOpenAI, nil
	case "deepseek", "hosted-deepseek":
		return ModeDeepSeek, nil
	case "local", "llama", "llama.cpp", "llamacpp", "local-llama":
		return ModeLlama, nil
	case "ollama", "local-ollama":
		return ModeOllama, nil
	default:
		return "", fmt.Errorf("unknown mode %q (expected openai, deepseek, local or ollama)", s)
	}
}

// String returns the storage name of the mode.
func (m ChatMode) String() string {
	return string(m)
}

// DisplayName returns a human-readable name for the mode.
func (m ChatMode) DisplayName() string {
	switch m {
	case ModeOpenAI:
		return "OpenAI-compatible"
	case ModeDeepSeek:
		return "DeepSeek"
	case ModeLlama:
		return "llama.cpp (local)"
	case ModeOllama:
		return "Ollama (local)"
	default:
		return string(m)
	}
}

// IsLocal reports whether the mode talks to a locally spawned server.
func (m ChatMode) IsLocal() bool {
	return m == ModeLlama || m == ModeOllama
}

// UsesHistory reports whether the mode sends role-tagged message history
// instead of a single prompt string.
func (m ChatMode) UsesHistory() bool {
	return m.IsLocal()
}

// ServerKind returns the local server backing the mode.
func (m ChatMode) ServerKind() (ServerKind, bool) {
	switch m {
	case ModeLlama:
		return ServerLlamaCpp, true
	case ModeOllama:
		return ServerOllama, true
	default:
		return "", false
	}
}

// =============================================================================
// SERVER KIND
// =============================================================================

// ServerKind names a local inference server implementation.
type ServerKind string

const (
	ServerLlamaCpp ServerKind = "llama-cpp"
	ServerOllama   ServerKind = "ollama"
)

// ParseServerKind converts user input into a ServerKind.
func ParseServerKind(s string) (ServerKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "llama-cpp", "llama.cpp", "llamacpp", "llama":
		return ServerLlamaCpp, nil
	case "ollama":
		return ServerOllama, nil
	default:
		return "", fmt.Errorf("unknown server %q (expected llama-cpp or ollama)", s)
	}
}

// String returns the runtime directory name of the server.
func (k ServerKind) String() string {
	return string(k)
}

// BinaryName returns the executable base name without extension.
func (k ServerKind) BinaryName() string {
	if k == ServerLlamaCpp {
		return "llama-server"
	}
	return "ollama"
}
