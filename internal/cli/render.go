// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/session"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

var (
	rendererOnce sync.Once
	renderer     *glamour.TermRenderer
)

func markdownRenderer(wrap int) *glamour.TermRenderer {
	rendererOnce.Do(func() {
		style := glamour.WithAutoStyle()
		if !ColorsEnabled() {
			style = glamour.WithStandardStyle("notty")
		}
		r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(wrap))
		if err == nil {
			renderer = r
		}
	})
	return renderer
}

// renderMarkdown renders content for the terminal, returning it unchanged
// when rendering is unavailable.
func renderMarkdown(content string, wrap int) string {
	r := markdownRenderer(wrap)
	if r == nil {
		return content
	}
	out, err := r.Render(content)
	if err != nil {
		return content
	}
	return out
}

// =============================================================================
// REPLIES
// =============================================================================

// printReply writes an assistant message: markdown on a terminal, raw text
// when piped, and an error line for failed turns.
func printReply(w io.Writer, ui config.UIConfig, msg model.Message) {
	if text, failed := strings.CutPrefix(msg.Text, session.ErrorPrefix); failed {
		fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[Error]"), text)
		return
	}
	if ui.Markdown && IsStdoutTTY() {
		fmt.Fprint(w, renderMarkdown(msg.Text, ui.WordWrap))
	} else {
		fmt.Fprintln(w, msg.Text)
	}
	if ui.ShowMeta {
		if line := replyMeta(msg.Meta); line != "" {
			fmt.Fprintln(w, DimStyle.Render(line))
		}
	}
}

// replyMeta summarizes provider metadata: model, tokens and timing.
func replyMeta(meta model.ProviderMetadata) string {
	if len(meta) == 0 {
		return ""
	}
	var parts []string
	if name := meta.String("model"); name != "" {
		parts = append(parts, name)
	}
	if usage, ok := meta["usage"].(map[string]any); ok {
		if n, ok := model.ProviderMetadata(usage).Number("total_tokens"); ok {
			parts = append(parts, fmt.Sprintf("%d tokens", int64(n)))
		}
	} else if n, ok := meta.Number("eval_count"); ok {
		parts = append(parts, fmt.Sprintf("%d tokens", int64(n)))
	}
	if ns, ok := meta.Number("total_duration"); ok {
		parts = append(parts, util.FormatNanos(ns))
	}
	if timings, ok := meta["timings"].(map[string]any); ok {
		if tps, ok := model.ProviderMetadata(timings).Number("predicted_per_second"); ok {
			parts = append(parts, fmt.Sprintf("%.1f tok/s", tps))
		}
	}
	if meta.String("note") == "embeddings_only" {
		parts = append(parts, "embeddings model")
	}
	return strings.Join(parts, " · ")
}
