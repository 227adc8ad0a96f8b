// rigrun-chat - chat with hosted or local LLMs from the terminal.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import "github.com/jeranaias/rigrun-chat/internal/cli"

func main() {
	cli.Execute()
}
