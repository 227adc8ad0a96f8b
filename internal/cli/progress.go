// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/state"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// PROGRESS VIEW
// =============================================================================

// statusMsg carries a DownloadStatus into the view.
type statusMsg model.DownloadStatus

// doneMsg ends the view with the operation's result.
type doneMsg struct{ err error }

// progressModel renders the download status while an install or a server
// start runs. Ctrl+C cancels the operation; the view stays up until the
// operation returns.
type progressModel struct {
	title   string
	spinner spinner.Model
	bar     progress.Model
	width   int

	status model.DownloadStatus
	cancel context.CancelFunc

	cancelled bool
	done      bool
	err       error
}

func newProgressModel(title string, cancel context.CancelFunc) progressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))

	return progressModel{
		title:   title,
		spinner: s,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		width:   DefaultTerminalWidth,
		status:  model.IdleStatus(),
		cancel:  cancel,
	}
}

func (m progressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC && !m.cancelled {
			m.cancelled = true
			if m.cancel != nil {
				m.cancel()
			}
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		w := msg.Width - 20
		if w < 20 {
			w = 20
		}
		if w > 60 {
			w = 60
		}
		m.bar.Width = w
		return m, nil

	case statusMsg:
		m.status = model.DownloadStatus(msg)
		return m, nil

	case doneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m progressModel) View() string {
	if m.done {
		return finalStatusLine(m.title, m.status, m.err) + "\n"
	}
	var b strings.Builder
	b.WriteString(m.spinner.View())
	b.WriteString(" ")
	b.WriteString(TitleStyle.Render(m.title))
	if m.cancelled {
		b.WriteString(DimStyle.Render("  cancelling..."))
	}
	b.WriteString("\n")
	b.WriteString(m.bar.ViewAs(float64(m.status.Progress) / 100))
	b.WriteString("\n")
	if m.status.Message != "" {
		b.WriteString(DimStyle.Render(util.TruncateWidth(m.status.Message, m.width-2)))
	}
	b.WriteString("\n")
	return b.String()
}

// finalStatusLine summarizes a finished operation.
func finalStatusLine(title string, st model.DownloadStatus, err error) string {
	switch {
	case err != nil:
		return fmt.Sprintf("%s %s: %v", RenderStatus("fail"), title, err)
	case st.Status == model.PhaseError:
		return fmt.Sprintf("%s %s", RenderStatus("fail"), st.Message)
	case st.Status == model.PhaseCompleted:
		return fmt.Sprintf("%s %s", RenderStatus("ok"), st.Message)
	default:
		return fmt.Sprintf("%s %s", RenderStatus(string(st.Status)), firstNonEmpty(st.Message, title))
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// =============================================================================
// RUNNERS
// =============================================================================

// watchStatus forwards every DownloadStatus change to send until release.
// Updates are dropped rather than block the store when send falls behind.
func watchStatus(store *state.Store, send func(model.DownloadStatus)) (release func()) {
	updates := make(chan model.DownloadStatus, 64)
	done := make(chan struct{})
	unsubscribe := store.Subscribe(func(s state.State) {
		select {
		case updates <- s.DownloadStatus:
		default:
		}
	})
	go func() {
		for {
			select {
			case <-done:
				return
			case ds := <-updates:
				send(ds)
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			close(done)
		})
	}
}

// runWithProgress runs op while showing the store's DownloadStatus: a
// bubbletea view on a terminal, plain lines otherwise.
func (inv *invocation) runWithProgress(ctx context.Context, store *state.Store, title string, op func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if !IsStderrTTY() || inv.opts.jsonOut {
		return runPlain(ctx, inv.errOut, store, title, op)
	}

	p := tea.NewProgram(newProgressModel(title, cancel), tea.WithOutput(inv.errOut))
	release := watchStatus(store, func(ds model.DownloadStatus) { p.Send(statusMsg(ds)) })
	go func() {
		err := op(ctx)
		p.Send(statusMsg(store.Get().DownloadStatus))
		p.Send(doneMsg{err: err})
	}()

	final, runErr := p.Run()
	release()
	if m, ok := final.(progressModel); ok && m.done {
		return m.err
	}
	if runErr != nil {
		return runErr
	}
	return ctx.Err()
}

// runPlain prints one line per distinct status.
func runPlain(ctx context.Context, w io.Writer, store *state.Store, title string, op func(ctx context.Context) error) error {
	fmt.Fprintln(w, title+"...")
	lines := make(chan string, 64)
	var last string
	release := watchStatus(store, func(ds model.DownloadStatus) {
		line := fmt.Sprintf("[%3d%%] %s", ds.Progress, ds.Message)
		if line != last && ds.Message != "" {
			last = line
			select {
			case lines <- line:
			default:
			}
		}
	})
	errc := make(chan error, 1)
	go func() { errc <- op(ctx) }()
	for {
		select {
		case line := <-lines:
			fmt.Fprintln(w, line)
		case err := <-errc:
			release()
			for {
				select {
				case line := <-lines:
					fmt.Fprintln(w, line)
				default:
					fmt.Fprintln(w, finalStatusLine(title, store.Get().DownloadStatus, err))
					return err
				}
			}
		}
	}
}
