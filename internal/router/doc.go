// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package router picks the transport adapter for the active chat mode.
//
// Hosted modes always route. Local modes route only while their server is
// ready; otherwise the router refuses silently and the caller decides what
// a refusal means.
package router
