// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session runs one chat turn: it appends the user message, gathers
// folder context, persists the prompt, dispatches through the router and
// appends the reply or an error message.
//
// Concurrent SendMessage calls are not serialized. Each one snapshots the
// log after appending its own user message, so two overlapping turns may
// each see the other's prompt in their history and their replies may land
// in either order. Callers that need strict turn order send one at a time.
package session
