// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider contains the transport adapters that turn a normalized
// chat request into the wire call of one backend and normalize its reply.
//
// Four adapters exist:
//   - OpenAIAdapter: any OpenAI-compatible /chat/completions endpoint
//   - DeepSeekAdapter: the hosted DeepSeek endpoint
//   - OllamaAdapter: a local Ollama server (/api/chat)
//   - LlamaAdapter: a local llama.cpp server (/v1/chat/completions)
//
// Every adapter degrades an unexpected response body to raw text content
// instead of failing. Transport failures are returned as errors.
package provider
