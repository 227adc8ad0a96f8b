// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package host

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

const searchDepth = 5

// binaryNames returns the executable names that count as an install.
func (h *Host) binaryNames(server model.ServerKind) ([]string, error) {
	switch server {
	case model.ServerLlamaCpp:
		if NormalizeOS(h.goos) == "windows" {
			return []string{"llama-server.exe"}, nil
		}
		return []string{"llama-server"}, nil
	case model.ServerOllama:
		switch NormalizeOS(h.goos) {
		case "windows":
			return []string{"ollama.exe", "ollama-windows-amd64.exe", "ollama-windows-arm64.exe"}, nil
		default:
			return []string{"ollama"}, nil
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, server)
	}
}

// CheckBinaryInstalled reports whether the server executable exists under
// runtime/<server>/<variant>. On macOS the saved Ollama.dmg installer also
// counts.
func (h *Host) CheckBinaryInstalled(ctx context.Context, server model.ServerKind, variant string) (bool, error) {
	names, err := h.binaryNames(server)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dir := h.RuntimeDir(server, variant)
	if server == model.ServerOllama && NormalizeOS(h.goos) == "macos" && exists(filepath.Join(dir, "Ollama.dmg")) {
		return true, nil
	}
	return findFirst(dir, names, searchDepth) != "", nil
}

// FindBinary returns the installed server executable, or "".
func (h *Host) FindBinary(server model.ServerKind, variant string) string {
	names, err := h.binaryNames(server)
	if err != nil {
		return ""
	}
	return findFirst(h.RuntimeDir(server, variant), names, searchDepth+3)
}

// findFirst searches dir breadth-first for a file named like one of names
// (case-insensitive), descending at most depth directory levels.
func findFirst(dir string, names []string, depth int) string {
	if depth <= 0 {
		return ""
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var subdirs []string
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if e.IsDir() {
			subdirs = append(subdirs, path)
			continue
		}
		for _, n := range names {
			if strings.EqualFold(n, e.Name()) {
				return path
			}
		}
	}
	for _, sub := range subdirs {
		if found := findFirst(sub, names, depth-1); found != "" {
			return found
		}
	}
	return ""
}
