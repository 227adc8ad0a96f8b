// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/app"
	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/host"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/state"
	"github.com/jeranaias/rigrun-chat/internal/supervisor"
)

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// reported wraps err after its message was printed.
func reported(err error) error {
	return errors.Join(errReported, err)
}

// =============================================================================
// INSTALL
// =============================================================================

func newInstallCmd(inv *invocation) *cobra.Command {
	var variant, targetOS string
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Download the local server build for the current mode",
		Long: "Download and unpack llama.cpp or Ollama into the data directory.\n\n" +
			"Variants: " + strings.Join(host.Variants, ", ") + ". The default is the\n" +
			"configured server_variant, chosen from the detected GPU on first run.",
		Example: `  rigrun-chat install
  rigrun-chat install --variant vulkan
  rigrun-chat install --os linux`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return inv.withApp(ctx, func(ctx context.Context, a *app.App) error {
				if variant != "" {
					if !slices.Contains(host.Variants, variant) {
						return &UsageError{Message: fmt.Sprintf("unknown variant %q (expected one of %s)",
							variant, strings.Join(host.Variants, ", "))}
					}
					if err := a.Set(ctx, "server_variant", variant); err != nil {
						return err
					}
				}
				if targetOS != "" {
					a.Store.Update(func(s *state.State) { s.Settings.ServerOS = targetOS })
				}
				v := a.Store.Settings().ServerVariant
				title := fmt.Sprintf("Installing %s (%s)", serverName(a.Store.Settings().Mode), v)
				return inv.runWithProgress(ctx, a.Store, title, func(ctx context.Context) error {
					return a.Servers.Install(ctx, v)
				})
			})
		},
	}
	cmd.Flags().StringVar(&variant, "variant", "", "Build variant to install (persisted as server_variant)")
	cmd.Flags().StringVar(&targetOS, "os", "", "Target OS for the release asset (win, mac, linux)")
	return cmd
}

// =============================================================================
// START / STOP
// =============================================================================

// ensureServer starts the current local server unless it is ready. It
// reports whether this call started it.
func (inv *invocation) ensureServer(ctx context.Context, a *app.App) (bool, error) {
	st := a.Store.Get()
	mode := st.Settings.Mode
	if !mode.IsLocal() || st.IsServerReady {
		return false, nil
	}
	if mode == model.ModeLlama && !st.HasBinary {
		return false, &UsageError{Message: "llama.cpp server is not installed; run 'rigrun-chat install' first"}
	}
	err := inv.runWithProgress(ctx, a.Store, "Starting "+serverName(mode), a.Servers.Start)
	if err != nil {
		return false, reported(err)
	}
	if st := a.Store.Get(); !st.IsServerReady {
		return false, reported(errors.New(st.DownloadStatus.Message))
	}
	return true, nil
}

func newStartCmd(inv *invocation) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the local server and keep it running until Ctrl+C",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return inv.withApp(ctx, func(ctx context.Context, a *app.App) error {
				mode := a.Store.Settings().Mode
				if !mode.IsLocal() {
					return fmt.Errorf("%w: %s", supervisor.ErrNotLocalMode, mode)
				}
				if a.Store.Get().IsServerReady {
					fmt.Fprintf(inv.out, "%s %s already running at %s\n", RenderStatus("ok"), serverName(mode), endpoint(a.Store.Settings()))
					return nil
				}
				if _, err := inv.ensureServer(ctx, a); err != nil {
					return err
				}
				fmt.Fprintf(inv.out, "%s listening at %s. Press Ctrl+C to stop.\n",
					serverName(mode), endpoint(a.Store.Settings()))
				<-ctx.Done()
				fmt.Fprintln(inv.out, DimStyle.Render("Stopping..."))
				return a.Servers.Stop(context.Background())
			})
		},
	}
}

func newStopCmd(inv *invocation) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the local server of the current mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return inv.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Servers.Stop(ctx); err != nil {
					return err
				}
				fmt.Fprintf(inv.out, "%s %s stopped\n", RenderStatus("ok"), serverName(a.Store.Settings().Mode))
				return nil
			})
		},
	}
}

// =============================================================================
// STATUS
// =============================================================================

// statusReport is the status command's output.
type statusReport struct {
	Mode          model.ChatMode       `json:"mode"`
	Provider      string               `json:"provider"`
	Endpoint      string               `json:"endpoint"`
	Model         string               `json:"model"`
	Variant       string               `json:"variant,omitempty"`
	ModelSource   config.ModelSource   `json:"model_source,omitempty"`
	Installed     bool                 `json:"installed"`
	Ready         bool                 `json:"ready"`
	Download      model.DownloadStatus `json:"download_status"`
	ActiveProject string               `json:"active_project,omitempty"`
	DataDir       string               `json:"data_dir"`
}

func buildStatus(st state.State, dataDir string) statusReport {
	s := st.Settings
	r := statusReport{
		Mode:      s.Mode,
		Provider:  s.Mode.DisplayName(),
		Endpoint:  endpoint(s),
		Model:     modelName(s),
		Installed: st.HasBinary,
		Ready:     st.IsServerReady,
		Download:  st.DownloadStatus,
		DataDir:   dataDir,
	}
	if s.Mode.IsLocal() {
		r.Variant = s.ServerVariant
	}
	if s.Mode == model.ModeLlama {
		r.ModelSource = config.SourceHuggingFace
		if f := strings.TrimSpace(s.ModelFile); f != "" {
			r.ModelSource = config.DetectModelSource(f)
		}
	}
	for _, p := range st.Projects {
		if p.ID == st.ActiveProjectID {
			r.ActiveProject = p.Name
		}
	}
	return r
}

func newStatusCmd(inv *invocation) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current mode, provider and local server state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return inv.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				r := buildStatus(a.Store.Get(), a.Config.DataDir)
				if inv.opts.jsonOut {
					return inv.printJSON("status", r)
				}
				printStatus(inv, r)
				return nil
			})
		},
	}
}

func printStatus(inv *invocation, r statusReport) {
	w := inv.out
	fmt.Fprintln(w, TitleStyle.Render("rigrun-chat status"))
	fmt.Fprintln(w, RenderSeparator(40))
	row := func(label, value string) {
		fmt.Fprintf(w, "%s %s\n", RenderLabel(label), ValueStyle.Render(value))
	}
	row("Mode", fmt.Sprintf("%s (%s)", r.Provider, r.Mode))
	row("Endpoint", r.Endpoint)
	row("Model", r.Model)
	if r.Mode.IsLocal() {
		row("Variant", r.Variant)
		if r.ModelSource != "" {
			row("Model source", string(r.ModelSource))
		}
		installed := "no"
		if r.Installed {
			installed = "yes"
		}
		if r.Mode == model.ModeOllama && !r.Installed {
			installed = "no (a system ollama is used if found)"
		}
		row("Installed", installed)
		ready := RenderStatus("stopped")
		if r.Ready {
			ready = RenderStatus("ready")
		}
		fmt.Fprintf(w, "%s %s\n", RenderLabel("Server"), ready)
		if r.Download.Status != model.PhaseIdle {
			fmt.Fprintf(w, "%s %s %d%% %s\n", RenderLabel("Last status"),
				RenderStatus(string(r.Download.Status)), r.Download.Progress, r.Download.Message)
		}
	}
	if r.ActiveProject != "" {
		row("Project", r.ActiveProject)
	}
	row("Data dir", r.DataDir)
}

// =============================================================================
// HELPERS
// =============================================================================

func serverName(mode model.ChatMode) string {
	switch mode {
	case model.ModeLlama:
		return "llama.cpp server"
	case model.ModeOllama:
		return "Ollama"
	default:
		return mode.DisplayName()
	}
}

// endpoint is where the current mode sends requests.
func endpoint(s config.Settings) string {
	switch s.Mode {
	case model.ModeOpenAI:
		return s.APIBase
	case model.ModeDeepSeek:
		return s.DeepSeekURL
	case model.ModeOllama:
		return s.OllamaBase
	case model.ModeLlama:
		port := s.ServerPort
		if port <= 0 {
			port = config.DefaultServerPort
		}
		return fmt.Sprintf("http://127.0.0.1:%d", port)
	default:
		return ""
	}
}

func modelName(s config.Settings) string {
	switch s.Mode {
	case model.ModeOpenAI:
		return s.APIModel
	case model.ModeDeepSeek:
		return s.DeepSeekModel
	case model.ModeOllama:
		return s.OllamaModel
	case model.ModeLlama:
		ref, _ := supervisor.ModelRef(s)
		return ref
	default:
		return ""
	}
}
