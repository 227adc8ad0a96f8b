// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !windows

package host

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// configureDetached puts the child in its own process group so the whole
// tree can be signalled.
func configureDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killTree sends SIGTERM to the process group of pid, then SIGKILL after a
// grace period.
func killTree(ctx context.Context, pid int) error {
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			// Not a group leader or already gone; try the pid alone.
			if err := unix.Kill(pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
				return err
			}
			return nil
		}
		return err
	}

	deadline := time.NewTimer(5 * time.Second)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		if unix.Kill(-pid, 0) != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			_ = unix.Kill(-pid, unix.SIGKILL)
			return ctx.Err()
		case <-deadline.C:
			if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
				return err
			}
			return nil
		case <-tick.C:
		}
	}
}

func systemOllamaPaths() []string {
	paths := []string{
		"/usr/local/bin/ollama",
		"/usr/bin/ollama",
		"/opt/ollama/ollama",
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".local", "bin", "ollama"),
			filepath.Join(home, "bin", "ollama"),
		)
	}
	return append(paths, "/Applications/Ollama.app/Contents/Resources/ollama")
}
