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
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/app"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/session"
)

// turnOptions are shared by ask and chat.
type turnOptions struct {
	mode    string
	noStart bool
}

func (o *turnOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.mode, "mode", "m", "", "Use this mode for this run only (openai, deepseek, local, ollama)")
	cmd.Flags().BoolVar(&o.noStart, "no-start", false, "Do not start the local server automatically")
}

// prepare applies --mode and starts the local server when needed. It
// returns a cleanup that stops a server this run started.
func (o *turnOptions) prepare(ctx context.Context, inv *invocation, a *app.App) (func(), error) {
	if o.mode != "" {
		mode, err := model.ParseChatMode(o.mode)
		if err != nil {
			return nil, &UsageError{Message: err.Error()}
		}
		a.UseMode(ctx, mode)
	}
	cleanup := func() {}
	if o.noStart {
		return cleanup, nil
	}
	started, err := inv.ensureServer(ctx, a)
	if err != nil {
		return nil, err
	}
	if started {
		cleanup = func() {
			if err := a.Servers.Stop(context.Background()); err != nil {
				log.Printf("cli: stopping server: %v", err)
			}
		}
	}
	return cleanup, nil
}

func notRunningError(mode model.ChatMode) error {
	return &UsageError{Message: fmt.Sprintf("%s is not running; start it with 'rigrun-chat start'", serverName(mode))}
}

// readQuestion joins args, reading stdin for "-" or when stdin is piped.
func readQuestion(args []string, stdin io.Reader, stdinTTY bool) (string, error) {
	q := strings.TrimSpace(strings.Join(args, " "))
	if q == "-" || (q == "" && !stdinTTY) {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		q = strings.TrimSpace(string(data))
	}
	if q == "" {
		return "", &UsageError{Message: "no question given"}
	}
	return q, nil
}

func newAskCmd(inv *invocation) *cobra.Command {
	var opts turnOptions
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question and print the reply",
		Example: `  rigrun-chat ask "What is a GGUF file?"
  git diff | rigrun-chat ask -
  rigrun-chat ask --mode ollama "hello"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			question, err := readQuestion(args, os.Stdin, IsTTY())
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return inv.withApp(ctx, func(ctx context.Context, a *app.App) error {
				cleanup, err := opts.prepare(ctx, inv, a)
				if err != nil {
					return err
				}
				defer cleanup()

				if !a.Session.SendMessage(ctx, question) {
					return notRunningError(a.Store.Settings().Mode)
				}
				msgs := a.Store.Messages()
				reply := msgs[len(msgs)-1]
				failed := strings.HasPrefix(reply.Text, session.ErrorPrefix)

				if inv.opts.jsonOut {
					if failed {
						turnErr := errors.New(strings.TrimPrefix(reply.Text, session.ErrorPrefix))
						if err := NewJSONErrorResponse("ask", turnErr).Write(inv.out); err != nil {
							return err
						}
						return reported(turnErr)
					}
					return inv.printJSON("ask", reply)
				}
				printReply(inv.out, a.Config.UI, reply)
				if failed {
					return reported(errors.New(reply.Text))
				}
				return nil
			})
		},
	}
	opts.register(cmd)
	return cmd
}
