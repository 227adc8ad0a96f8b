// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package host

import (
	"fmt"
	"strings"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// DefaultLlamaTag is the pinned llama.cpp release.
const DefaultLlamaTag = "b6134"

const (
	llamaReleaseBase  = "https://github.com/ggml-org/llama.cpp/releases/download/"
	ollamaReleaseBase = "https://github.com/ollama/ollama/releases/latest/download/"
)

// Server build variants.
const (
	VariantCPU       = "cpu"
	VariantCPUArm    = "cpu_arm"
	VariantCUDA12    = "cuda_12"
	VariantHIPRadeon = "hip_radeon"
	VariantVulkan    = "vulkan"
)

// Variants lists every known build variant.
var Variants = []string{VariantCPU, VariantCPUArm, VariantCUDA12, VariantHIPRadeon, VariantVulkan}

// NormalizeOS maps user spellings to windows, macos or linux. Other values
// are returned lower-cased.
func NormalizeOS(s string) string {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case "windows", "win", "win32":
		return "windows"
	case "macos", "mac", "darwin", "osx":
		return "macos"
	default:
		return s
	}
}

// ReleaseURL resolves the download URL of a server build.
func ReleaseURL(server model.ServerKind, variant, goos, goarch, tag string) (string, error) {
	goos = NormalizeOS(goos)
	switch server {
	case model.ServerLlamaCpp:
		return llamaURL(tag, variant, goos)
	case model.ServerOllama:
		return ollamaURL(variant, goos, goarch)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownServer, server)
	}
}

func llamaURL(tag, variant, goos string) (string, error) {
	if tag == "" {
		tag = DefaultLlamaTag
	}
	base := llamaReleaseBase + tag + "/llama-" + tag + "-bin-"

	switch goos {
	case "windows":
		suffix, ok := map[string]string{
			VariantCPU:       "win-cpu-x64.zip",
			VariantCPUArm:    "win-cpu-arm64.zip",
			VariantCUDA12:    "win-cuda-12.4-x64.zip",
			VariantHIPRadeon: "win-hip-radeon-x64.zip",
			VariantVulkan:    "win-vulkan-x64.zip",
		}[variant]
		if !ok {
			return "", fmt.Errorf("invalid variant %q", variant)
		}
		return base + suffix, nil
	case "macos":
		// macOS builds are universal.
		return base + "macos-universal.zip", nil
	case "linux":
		suffix, ok := map[string]string{
			VariantCPU:       "linux-x64.tar.gz",
			VariantCUDA12:    "linux-cuda-12.4-x64.tar.gz",
			VariantVulkan:    "linux-vulkan-x64.tar.gz",
			VariantHIPRadeon: "linux-rocm-x64.tar.gz",
		}[variant]
		if !ok {
			return "", fmt.Errorf("invalid variant %q", variant)
		}
		return base + suffix, nil
	default:
		return "", fmt.Errorf("platform %q is not supported", goos)
	}
}

func ollamaURL(variant, goos, goarch string) (string, error) {
	var asset string
	switch goos {
	case "windows":
		switch variant {
		case VariantCPUArm:
			asset = "ollama-windows-arm64.zip"
		case VariantHIPRadeon:
			asset = "ollama-windows-amd64-rocm.zip"
		default:
			asset = "ollama-windows-amd64.zip"
		}
	case "linux":
		switch {
		case goarch == "arm64":
			asset = "ollama-linux-arm64.tgz"
		case variant == VariantHIPRadeon:
			asset = "ollama-linux-amd64-rocm.tgz"
		default:
			asset = "ollama-linux-amd64.tgz"
		}
	case "macos":
		asset = "Ollama.dmg"
	default:
		return "", fmt.Errorf("platform %q is not supported", goos)
	}
	return ollamaReleaseBase + asset, nil
}
