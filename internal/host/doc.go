// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package host implements the operations the chat core invokes on the
// local machine: server binary download and extraction, install checks,
// process start and stop with log streaming, Ollama model pulls, context
// folder scans and system usage.
//
// Progress and log lines are published to an events.Bus using the
// binary_download_progress, llamacpp_server_log and ollama_pull_progress
// topics.
//
// Runtime layout under the data directory:
//
//	runtime/<server>/<variant>/        extracted release assets
//	runtime/llama-cpp/llama-server.pid pid of the running llama.cpp server
package host
