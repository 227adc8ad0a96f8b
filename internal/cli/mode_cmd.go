// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/app"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

var allModes = []model.ChatMode{model.ModeOpenAI, model.ModeDeepSeek, model.ModeLlama, model.ModeOllama}

func newModeCmd(inv *invocation) *cobra.Command {
	return &cobra.Command{
		Use:   "mode [openai|deepseek|local|ollama]",
		Short: "Show or switch the chat mode",
		Long: `Without an argument, print the current mode and the available ones.
With an argument, switch to that mode and persist it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inv.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if len(args) == 1 {
					mode, err := model.ParseChatMode(args[0])
					if err != nil {
						return &UsageError{Message: err.Error()}
					}
					if err := a.SetMode(ctx, mode); err != nil {
						return err
					}
					a.Refresh(ctx, true)
				}
				current := a.Store.Settings().Mode
				if inv.opts.jsonOut {
					return inv.printJSON("mode", map[string]any{
						"mode":     current,
						"provider": current.DisplayName(),
						"endpoint": endpoint(a.Store.Settings()),
					})
				}
				if len(args) == 1 {
					fmt.Fprintf(inv.out, "%s mode set to %s\n", RenderStatus("ok"), current.DisplayName())
					return nil
				}
				for _, m := range allModes {
					mark := "  "
					if m == current {
						mark = SuccessStyle.Render("* ")
					}
					fmt.Fprintf(inv.out, "%s%s %s\n", mark, util.PadRight(string(m), 10), DimStyle.Render(m.DisplayName()))
				}
				return nil
			})
		},
	}
}

func newModelsCmd(inv *invocation) *cobra.Command {
	var base string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List models installed in Ollama",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return inv.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				settings := a.Store.Settings()
				if base == "" {
					base = settings.OllamaBase
				}
				names, err := a.Host.ListOllamaModels(ctx, base)
				if err != nil {
					return fmt.Errorf("ollama at %s: %w", base, err)
				}
				if inv.opts.jsonOut {
					if names == nil {
						names = []string{}
					}
					return inv.printJSON("models", map[string]any{"base": base, "models": names})
				}
				if len(names) == 0 {
					fmt.Fprintln(inv.out, DimStyle.Render("No models installed. Set ollama_model and run 'rigrun-chat start' to pull one."))
					return nil
				}
				width := GetTerminalWidth() - 4
				for _, n := range names {
					mark := "  "
					if n == settings.OllamaModel {
						mark = SuccessStyle.Render("* ")
					}
					fmt.Fprintf(inv.out, "%s%s\n", mark, util.TruncateWidth(n, width))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&base, "base", "", "Ollama base URL (defaults to ollama_base)")
	return cmd
}

func newUsageCmd(inv *invocation) *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show CPU and memory usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return inv.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := a.Host.SystemUsage(ctx)
				if err != nil {
					return err
				}
				if inv.opts.jsonOut {
					return inv.printJSON("usage", u)
				}
				mem := 0.0
				if u.MemTotal > 0 {
					mem = float64(u.MemUsed) / float64(u.MemTotal) * 100
				}
				fmt.Fprintf(inv.out, "%s %.1f%%\n", RenderLabel("CPU"), u.CPUPercent)
				fmt.Fprintf(inv.out, "%s %s / %s (%.1f%%)\n", RenderLabel("Memory"),
					util.FormatSize(int64(u.MemUsed)), util.FormatSize(int64(u.MemTotal)), mem)
				return nil
			})
		},
	}
}
