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
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/app"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// historyFileName is the liner history file under the data directory.
const historyFileName = "chat_history"

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineEditor wraps liner with a persisted history file.
type lineEditor struct {
	line        *liner.State
	historyFile string
}

func newLineEditor(dataDir string) *lineEditor {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	e := &lineEditor{line: line, historyFile: filepath.Join(dataDir, historyFileName)}
	if f, err := os.Open(e.historyFile); err == nil {
		e.line.ReadHistory(f)
		f.Close()
	}
	return e
}

// ReadInput prompts for one line and records non-empty input.
func (e *lineEditor) ReadInput(prompt string) (string, error) {
	input, err := e.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		e.line.AppendHistory(input)
	}
	return input, nil
}

// Close writes the history (0600) and restores the terminal.
func (e *lineEditor) Close() {
	if err := os.MkdirAll(filepath.Dir(e.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(e.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			e.line.WriteHistory(f)
			f.Close()
		}
	}
	e.line.Close()
}

// =============================================================================
// REPL
// =============================================================================

// repl is one interactive chat.
type repl struct {
	inv  *invocation
	app  *app.App
	out  io.Writer
	opts turnOptions

	mu     sync.Mutex
	cancel context.CancelFunc

	// stopOwned stops a server this chat started.
	stopOwned func()
}

func newChatCmd(inv *invocation) *cobra.Command {
	var opts turnOptions
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat",
		Long: `Start an interactive chat with the current mode's provider.

A local server is started when needed and stopped again on exit if this
chat started it. Type /help for commands. Ctrl+C cancels a running reply,
Ctrl+D exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return inv.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				r := &repl{inv: inv, app: a, out: inv.out, opts: opts}
				return r.run(ctx)
			})
		},
	}
	opts.register(cmd)
	return cmd
}

func (r *repl) run(ctx context.Context) error {
	cleanup, err := r.opts.prepare(ctx, r.inv, r.app)
	if err != nil {
		return err
	}
	r.stopOwned = cleanup
	defer func() { r.stopOwned() }()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		for range sigs {
			if r.cancelTurn() {
				fmt.Fprintln(r.inv.errOut, "\n"+WarningStyle.Render("[Cancelled]"))
			}
		}
	}()

	r.printWelcome()
	editor := newLineEditor(r.app.Config.DataDir)
	defer editor.Close()

	for {
		input, err := editor.ReadInput("you> ")
		if err != nil {
			// Ctrl+C at the prompt, Ctrl+D or a closed stdin.
			fmt.Fprintln(r.out)
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			cont, err := r.handleSlash(ctx, input)
			if err != nil {
				fmt.Fprintf(r.inv.errOut, "%s %v\n", ErrorStyle.Render("[Error]"), err)
			}
			if !cont {
				return nil
			}
			continue
		}
		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			return nil
		}
		r.send(ctx, input)
	}
}

// send runs one turn; Ctrl+C cancels it.
func (r *repl) send(ctx context.Context, text string) {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
		cancel()
	}()

	if IsStdoutTTY() {
		fmt.Fprintln(r.out, DimStyle.Render("thinking..."))
	}
	if !r.app.Session.SendMessage(ctx, text) {
		fmt.Fprintf(r.inv.errOut, "%s %v\n", WarningStyle.Render("[Not sent]"),
			notRunningError(r.app.Store.Settings().Mode))
		return
	}
	msgs := r.app.Store.Messages()
	printReply(r.out, r.app.Config.UI, msgs[len(msgs)-1])
}

func (r *repl) cancelTurn() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return false
	}
	r.cancel()
	r.cancel = nil
	return true
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlash runs a slash command. It returns false to end the chat.
func (r *repl) handleSlash(ctx context.Context, input string) (bool, error) {
	parts := strings.Fields(input)
	command := strings.ToLower(parts[0])
	args := parts[1:]

	switch command {
	case "/help", "/h", "/?", "/":
		r.printHelp()
	case "/quit", "/q", "/exit":
		return false, nil
	case "/clear", "/c":
		r.app.Store.ClearMessages()
		fmt.Fprintln(r.out, SuccessStyle.Render("[Conversation cleared]"))
	case "/history":
		return true, r.printHistory(ctx, args)
	case "/status", "/s":
		printStatus(r.inv, buildStatus(r.app.Store.Get(), r.app.Config.DataDir))
	case "/mode", "/m":
		return true, r.switchMode(ctx, args)
	case "/project", "/p":
		return true, r.project(ctx, args)
	case "/start":
		return true, r.start(ctx)
	case "/stop":
		r.stopOwned = func() {}
		return true, r.app.Servers.Stop(ctx)
	default:
		return true, fmt.Errorf("unknown command: %s (type /help for commands)", command)
	}
	return true, nil
}

func (r *repl) start(ctx context.Context) error {
	started, err := r.inv.ensureServer(ctx, r.app)
	if err != nil {
		if errors.Is(err, errReported) {
			return nil
		}
		return err
	}
	if started {
		prev := r.stopOwned
		r.stopOwned = func() {
			prev()
			if err := r.app.Servers.Stop(context.Background()); err != nil {
				log.Printf("cli: stopping server: %v", err)
			}
		}
	}
	return nil
}

func (r *repl) switchMode(ctx context.Context, args []string) error {
	if len(args) == 0 {
		s := r.app.Store.Settings()
		fmt.Fprintf(r.out, "%s %s (%s)\n", RenderLabel("Mode"), s.Mode.DisplayName(), modelName(s))
		return nil
	}
	mode, err := model.ParseChatMode(args[0])
	if err != nil {
		return err
	}
	r.stopOwned()
	r.stopOwned = func() {}
	if err := r.app.SetMode(ctx, mode); err != nil {
		return err
	}
	r.app.Refresh(ctx, true)
	fmt.Fprintf(r.out, "%s %s\n", RenderStatus("ok"), mode.DisplayName())
	if mode.IsLocal() && !r.opts.noStart {
		return r.start(ctx)
	}
	return nil
}

func (r *repl) project(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printProjects(r.out, r.app.Projects.List(), r.app.Store.Get().ActiveProjectID)
		return nil
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid project id %q", args[0])
	}
	r.stopOwned()
	r.stopOwned = func() {}
	if err := r.inv.activate(ctx, r.app, id); err != nil {
		return err
	}
	if st := r.app.Store.Get(); st.Settings.Mode.IsLocal() && st.IsServerReady {
		r.stopOwned = func() {
			if err := r.app.Servers.Stop(context.Background()); err != nil {
				log.Printf("cli: stopping server: %v", err)
			}
		}
	}
	fmt.Fprintf(r.out, "%s loaded %d saved prompts\n", RenderStatus("ok"), len(r.app.Store.Messages()))
	return nil
}

func (r *repl) printHistory(ctx context.Context, args []string) error {
	limit := 10
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid count %q", args[0])
		}
		limit = n
	}
	prompts, err := r.app.DB.ListPrompts(ctx, limit)
	if err != nil {
		return err
	}
	if len(prompts) == 0 {
		fmt.Fprintln(r.out, DimStyle.Render("[No prompts yet]"))
		return nil
	}
	width := GetTerminalWidth() - 24
	for i := len(prompts) - 1; i >= 0; i-- {
		p := prompts[i]
		fmt.Fprintf(r.out, "  %s  %s\n",
			DimStyle.Render(p.CreatedAt.Local().Format("2006-01-02 15:04")),
			util.TruncateWidth(util.FirstLine(p.Content), width))
	}
	return nil
}

func (r *repl) printWelcome() {
	s := r.app.Store.Settings()
	fmt.Fprintln(r.out, TitleStyle.Render("rigrun-chat"))
	fmt.Fprintf(r.out, "%s %s\n", RenderLabel("Mode"), s.Mode.DisplayName())
	fmt.Fprintf(r.out, "%s %s\n", RenderLabel("Model"), modelName(s))
	if s.ContextFolder != "" {
		fmt.Fprintf(r.out, "%s %s\n", RenderLabel("Context folder"), s.ContextFolder)
	}
	fmt.Fprintln(r.out, DimStyle.Render("Type /help for commands, Ctrl+D to exit."))
	fmt.Fprintln(r.out)
}

func (r *repl) printHelp() {
	cmds := [][2]string{
		{"/help", "Show this help"},
		{"/clear", "Clear the conversation"},
		{"/history [n]", "Show the last n sent prompts"},
		{"/mode [name]", "Show or switch the mode (openai, deepseek, local, ollama)"},
		{"/project [id]", "List projects or activate one"},
		{"/start, /stop", "Start or stop the local server"},
		{"/status", "Show mode and server state"},
		{"/quit", "Exit"},
	}
	fmt.Fprintln(r.out, TitleStyle.Render("Commands"))
	for _, c := range cmds {
		fmt.Fprintf(r.out, "  %s %s\n", util.PadRight(c[0], 16), DimStyle.Render(c[1]))
	}
	fmt.Fprintln(r.out, DimStyle.Render("Ctrl+C cancels a running reply, Ctrl+D exits."))
}
