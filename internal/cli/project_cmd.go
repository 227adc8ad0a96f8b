// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/app"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/projects"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

func newProjectCmd(inv *invocation) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "project",
		Aliases: []string{"projects"},
		Short:   "Save and restore provider configurations",
	}
	cmd.AddCommand(
		newProjectListCmd(inv),
		newProjectSaveCmd(inv),
		newProjectActivateCmd(inv),
		newProjectDeleteCmd(inv),
		newProjectExportCmd(inv),
	)
	return cmd
}

func parseProjectID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, &UsageError{Message: fmt.Sprintf("invalid project id %q", arg)}
	}
	return id, nil
}

// activate replays a project, showing progress while a local server starts.
func (inv *invocation) activate(ctx context.Context, a *app.App, id int64) error {
	var target model.Project
	for _, p := range a.Projects.List() {
		if p.ID == id {
			target = p
		}
	}
	if !target.WorkMode.IsLocal() {
		return a.Projects.Activate(ctx, id)
	}
	return inv.runWithProgress(ctx, a.Store, "Activating "+target.Name, func(ctx context.Context) error {
		return a.Projects.Activate(ctx, id)
	})
}

func newProjectListCmd(inv *invocation) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var filter model.ChatMode
			if mode != "" {
				m, err := model.ParseChatMode(mode)
				if err != nil {
					return &UsageError{Message: err.Error()}
				}
				filter = m
			}
			return inv.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rows, err := a.Projects.Load(ctx, filter)
				if err != nil {
					return err
				}
				if inv.opts.jsonOut {
					if rows == nil {
						rows = []model.Project{}
					}
					return inv.printJSON("project list", rows)
				}
				printProjects(inv.out, rows, a.Store.Get().ActiveProjectID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "Only list projects of this mode")
	return cmd
}

func newProjectSaveCmd(inv *invocation) *cobra.Command {
	return &cobra.Command{
		Use:   "save <name>",
		Short: "Save the current configuration as a project",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.Join(args, " ")
			return inv.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				id, err := a.Projects.Save(ctx, name)
				if err != nil {
					return err
				}
				if inv.opts.jsonOut {
					return inv.printJSON("project save", map[string]any{"id": id, "name": strings.TrimSpace(name)})
				}
				fmt.Fprintf(inv.out, "%s saved project %d %q\n", RenderStatus("ok"), id, strings.TrimSpace(name))
				return nil
			})
		},
	}
}

func newProjectActivateCmd(inv *invocation) *cobra.Command {
	return &cobra.Command{
		Use:   "activate <id>",
		Short: "Restore a project's configuration",
		Long: `Restore a project's configuration and persist it as the current
settings. A running local server is stopped first; a local project's server
is started and stopped again when this command exits. Use 'start' or 'chat'
to keep it running.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProjectID(args[0])
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return inv.withApp(ctx, func(ctx context.Context, a *app.App) error {
				if err := inv.activate(ctx, a, id); err != nil {
					return err
				}
				st := a.Store.Get()
				if st.Settings.Mode.IsLocal() && st.IsServerReady {
					defer a.Servers.Stop(context.Background())
				}
				fmt.Fprintf(inv.out, "%s activated project %d (%s)\n", RenderStatus("ok"), id, st.Settings.Mode.DisplayName())
				return nil
			})
		},
	}
}

func newProjectDeleteCmd(inv *invocation) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProjectID(args[0])
			if err != nil {
				return err
			}
			return inv.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Projects.Delete(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(inv.out, "%s deleted project %d\n", RenderStatus("ok"), id)
				return nil
			})
		},
	}
}

func newProjectExportCmd(inv *invocation) *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export projects as JSON or YAML",
		Example: `  rigrun-chat project export
  rigrun-chat project export --format yaml --output projects.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return inv.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rows, err := a.Projects.Load(ctx, "")
				if err != nil {
					return err
				}
				var w io.Writer = inv.out
				if output != "" && output != "-" {
					f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
					if err != nil {
						return fmt.Errorf("failed to create %s: %w", output, err)
					}
					defer f.Close()
					w = f
				}
				if err := projects.Export(w, rows, format); err != nil {
					return &UsageError{Message: err.Error()}
				}
				if w != inv.out {
					fmt.Fprintf(inv.errOut, "%s exported %d projects to %s\n", RenderStatus("ok"), len(rows), output)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", projects.FormatJSON, "Output format: json or yaml")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this file instead of stdout")
	return cmd
}

// =============================================================================
// TABLE
// =============================================================================

// printProjects renders projects as a width-aware table; the active one is
// marked with '*'.
func printProjects(w io.Writer, rows []model.Project, active int64) {
	if len(rows) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No projects saved. Use 'rigrun-chat project save <name>'."))
		return
	}
	for _, line := range projectTable(rows, active, GetTerminalWidth()) {
		fmt.Fprintln(w, line)
	}
}

// projectTable lays out ID, NAME, MODE, MODEL and SERVER columns within
// width cells.
func projectTable(rows []model.Project, active int64, width int) []string {
	const idW, modeW = 6, 9
	rest := width - idW - modeW - 8
	if rest < 30 {
		rest = 30
	}
	nameW := rest / 4
	modelW := rest * 2 / 5
	serverW := rest - nameW - modelW

	cell := func(s string, n int) string {
		return util.PadRight(util.TruncateWidth(s, n), n)
	}
	lines := []string{
		SeparatorStyle.Render(fmt.Sprintf("  %s %s %s %s %s",
			cell("ID", idW), cell("NAME", nameW), cell("MODE", modeW), cell("MODEL", modelW), "SERVER")),
	}
	for _, p := range rows {
		mark := " "
		if p.ID == active {
			mark = "*"
		}
		lines = append(lines, fmt.Sprintf("%s %s %s %s %s %s",
			mark, cell(strconv.FormatInt(p.ID, 10), idW), cell(p.Name, nameW), cell(string(p.WorkMode), modeW),
			cell(p.Model, modelW), util.TruncateWidth(p.Server, serverW)))
	}
	return lines
}
