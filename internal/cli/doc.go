// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the rigrun-chat command tree.
//
// # Commands
//
//   - chat: interactive REPL (liner) with slash commands
//   - ask: one question, reply on stdout
//   - install, start, stop, status: local server lifecycle
//   - mode: show or switch the chat mode
//   - models: installed Ollama models
//   - usage: CPU and memory snapshot
//   - project list|save|activate|delete|export
//   - config show|path|init|set
//
// Diagnostic logging goes to the log file under the data directory unless
// --verbose is given. Colors follow NO_COLOR, FORCE_COLOR and TTY
// detection.
package cli
