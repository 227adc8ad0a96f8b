// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the domain types shared by every layer of rigrun-chat.
//
// # Key Types
//
//   - ChatMode: the active provider (openai, deepseek, local, ollama)
//   - Message: one chat log entry with optional ProviderMetadata
//   - DownloadStatus: progress of the current install or server start
//   - Project: a named, restorable provider configuration snapshot
//
// # Usage
//
//	mode, err := model.ParseChatMode("ollama")
//	if mode.IsLocal() {
//	    kind, _ := mode.ServerKind()
//	    fmt.Println("server:", kind)
//	}
//
//	status := model.DownloadingStatus(42, "Downloading llama-server")
package model
