// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/app"
	"github.com/jeranaias/rigrun-chat/internal/config"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// INVOCATION
// =============================================================================

// globalOptions are the persistent flags.
type globalOptions struct {
	verbose    bool
	configPath string
	jsonOut    bool
	noColor    bool
}

// invocation carries one run of the command tree.
type invocation struct {
	opts    globalOptions
	cfg     *config.Config
	logFile *os.File

	out    io.Writer
	errOut io.Writer

	// openApp is replaced in tests.
	openApp func(ctx context.Context, cfg *config.Config) (*app.App, error)
}

func newInvocation() *invocation {
	return &invocation{
		out:    os.Stdout,
		errOut: os.Stderr,
		openApp: func(ctx context.Context, cfg *config.Config) (*app.App, error) {
			return app.Open(ctx, cfg)
		},
	}
}

// setup loads the config, applies color settings and redirects logging.
func (inv *invocation) setup(cmd *cobra.Command, _ []string) error {
	if inv.opts.noColor {
		ForceColorsEnabled(false)
	}
	applyColorProfile()

	cfg, err := inv.loadConfig()
	if err != nil {
		return err
	}
	inv.cfg = cfg

	if inv.opts.verbose {
		log.SetOutput(inv.errOut)
		return nil
	}
	path := cfg.LogPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err == nil {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err == nil {
			inv.logFile = f
			log.SetOutput(f)
			return nil
		}
		fmt.Fprintf(inv.errOut, "Warning: could not open log file %s: %v\n", path, err)
	}
	log.SetOutput(io.Discard)
	return nil
}

func (inv *invocation) loadConfig() (*config.Config, error) {
	if inv.opts.configPath != "" {
		if _, err := os.Stat(inv.opts.configPath); errors.Is(err, os.ErrNotExist) {
			cfg := config.Default()
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
		return config.LoadFromPath(inv.opts.configPath)
	}
	cfg, err := config.Load()
	if err != nil && cfg != nil {
		fmt.Fprintf(inv.errOut, "Warning: %v; using defaults\n", err)
		return cfg, nil
	}
	return cfg, err
}

func (inv *invocation) teardown() {
	if inv.logFile != nil {
		log.SetOutput(os.Stderr)
		inv.logFile.Close()
		inv.logFile = nil
	}
}

// configPath returns the config file this invocation reads.
func (inv *invocation) configPath() (string, error) {
	if inv.opts.configPath != "" {
		return inv.opts.configPath, nil
	}
	return config.ConfigPath()
}

// withApp opens the app for the duration of fn.
func (inv *invocation) withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	a, err := inv.openApp(ctx, inv.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Printf("cli: close: %v", err)
		}
	}()
	return fn(ctx, a)
}

// printJSON writes data in the --json envelope.
func (inv *invocation) printJSON(command string, data interface{}) error {
	return NewJSONResponse(command, data).Write(inv.out)
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(newInvocation())
}

func newRootCommand(inv *invocation) *cobra.Command {
	root := &cobra.Command{
		Use:   "rigrun-chat",
		Short: "Chat with hosted or local LLMs from the terminal",
		Long: `rigrun-chat talks to an OpenAI-compatible API, DeepSeek, a local
llama.cpp server or a local Ollama server. It can install and supervise the
local servers and saves provider configurations as named projects.

Quick Start:
  rigrun-chat mode local            # switch to llama.cpp
  rigrun-chat install               # download the server build
  rigrun-chat chat                  # start the server and chat
  rigrun-chat ask "hello"           # one-shot question`,
		Version:           fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: inv.setup,
		PersistentPostRun: func(*cobra.Command, []string) { inv.teardown() },
	}

	pf := root.PersistentFlags()
	pf.BoolVarP(&inv.opts.verbose, "verbose", "v", false, "Log diagnostics to stderr instead of the log file")
	pf.StringVar(&inv.opts.configPath, "config", "", "Path to config.toml")
	pf.BoolVar(&inv.opts.jsonOut, "json", false, "Print JSON where supported")
	pf.BoolVar(&inv.opts.noColor, "no-color", false, "Disable colored output")

	root.SetOut(inv.out)
	root.SetErr(inv.errOut)
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(
		newChatCmd(inv),
		newAskCmd(inv),
		newInstallCmd(inv),
		newStartCmd(inv),
		newStopCmd(inv),
		newStatusCmd(inv),
		newModeCmd(inv),
		newModelsCmd(inv),
		newUsageCmd(inv),
		newProjectCmd(inv),
		newConfigCmd(inv),
	)
	return root
}

// Execute runs the command tree and exits with the mapped exit code.
func Execute() {
	inv := newInvocation()
	if err := newRootCommand(inv).Execute(); err != nil {
		inv.teardown()
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("Error:"), err)
		}
		os.Exit(ExitCode(err))
	}
}
