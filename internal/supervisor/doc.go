// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package supervisor drives a local inference server (llama.cpp or Ollama)
// through install, start, health polling and stop.
//
// All progress is reported through the shared state.Store: DownloadStatus,
// HasBinary, IsServerReady and IsStartingServer. Start failures are added
// to the chat log as assistant messages so they show up in the
// conversation.
//
// # State Machine
//
//	NotInstalled -> Installing -> Installed -> Starting -> Ready -> Idle
//	                    |                         |
//	                    +--------> Error <--------+
//
// Start is single-flight per store: a second Start while one is running
// returns immediately without launching anything. Stop cancels a running
// start, which then exits without reporting an error.
package supervisor
