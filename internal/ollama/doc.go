// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for a local Ollama server.
//
// It covers what the chat client needs from the API:
//
//   - CheckRunning and ListModels (/api/tags) for readiness polling
//   - ChatRaw (/api/chat) returning the undecoded response body
//   - Pull (/api/pull) streaming NDJSON progress
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: base})
//	if err := client.CheckRunning(ctx); err != nil {
//	    return err
//	}
//	err := client.Pull(ctx, "llama3", func(p ollama.PullProgress) {
//	    fmt.Printf("%s %d/%d\n", p.Status, p.Completed, p.Total)
//	})
package ollama
