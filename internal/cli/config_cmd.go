// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/app"
	"github.com/jeranaias/rigrun-chat/internal/config"
)

func newConfigCmd(inv *invocation) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and edit configuration",
	}
	cmd.AddCommand(
		newConfigShowCmd(inv),
		newConfigPathCmd(inv),
		newConfigInitCmd(inv),
		newConfigSetCmd(inv),
	)
	return cmd
}

// maskSecret keeps the last four characters of a secret.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

// settingRow is one key of 'config show'.
type settingRow struct {
	Key        string      `json:"key"`
	Value      interface{} `json:"value"`
	Overridden bool        `json:"env_override,omitempty"`
}

func settingRows(a *app.App) []settingRow {
	s := a.Store.Settings()
	keys := config.SettingsKeys()
	rows := make([]settingRow, 0, len(keys))
	for _, k := range keys {
		v, err := s.Get(k)
		if err != nil {
			continue
		}
		if k == "api_key" {
			v = maskSecret(s.APIKey)
		}
		rows = append(rows, settingRow{Key: k, Value: v, Overridden: a.Overridden(k)})
	}
	return rows
}

func newConfigShowCmd(inv *invocation) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return inv.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rows := settingRows(a)
				if inv.opts.jsonOut {
					cfg := *inv.cfg
					cfg.Defaults.APIKey = maskSecret(cfg.Defaults.APIKey)
					return inv.printJSON("config show", map[string]any{
						"settings": rows,
						"config":   cfg,
					})
				}
				fmt.Fprintln(inv.out, TitleStyle.Render("Settings"))
				fmt.Fprintln(inv.out, RenderSeparator(40))
				for _, r := range rows {
					line := fmt.Sprintf("%s %s", RenderLabel(r.Key), ValueStyle.Render(fmt.Sprint(r.Value)))
					if r.Overridden {
						line += " " + WarningStyle.Render("(env)")
					}
					fmt.Fprintln(inv.out, line)
				}
				fmt.Fprintln(inv.out)
				fmt.Fprintln(inv.out, TitleStyle.Render("Runtime"))
				fmt.Fprintln(inv.out, RenderSeparator(40))
				fmt.Fprintf(inv.out, "%s %s\n", RenderLabel("data_dir"), inv.cfg.DataDir)
				fmt.Fprintf(inv.out, "%s %s\n", RenderLabel("log_file"), inv.cfg.LogPath())
				fmt.Fprintf(inv.out, "%s %s\n", RenderLabel("llama_release_tag"), inv.cfg.Runtime.LlamaReleaseTag)
				fmt.Fprintf(inv.out, "%s %d\n", RenderLabel("download_attempts"), inv.cfg.Runtime.DownloadAttempts)
				fmt.Fprintf(inv.out, "%s %ds\n", RenderLabel("request_timeout"), inv.cfg.Runtime.RequestTimeoutSecs)
				return nil
			})
		},
	}
}

func newConfigPathCmd(inv *invocation) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := inv.configPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(inv.out, path)
			return nil
		},
	}
}

func newConfigInitCmd(inv *invocation) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := inv.configPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return &UsageError{Message: fmt.Sprintf("%s already exists (use --force to overwrite)", path)}
			}
			if err := config.SaveTOML(config.Default(), path); err != nil {
				return err
			}
			fmt.Fprintf(inv.out, "%s wrote %s\n", RenderStatus("ok"), path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func newConfigSetCmd(inv *invocation) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change and persist one setting",
		Example: `  rigrun-chat config set api_key sk-...
  rigrun-chat config set server_port 8081
  rigrun-chat config set ollama_model llama3.2:3b`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inv.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Set(ctx, args[0], args[1]); err != nil {
					return err
				}
				if a.Overridden(args[0]) {
					fmt.Fprintf(inv.errOut, "Warning: %s is set by the environment for this process\n", args[0])
				}
				fmt.Fprintf(inv.out, "%s %s updated\n", RenderStatus("ok"), args[0])
				return nil
			})
		},
	}
}
