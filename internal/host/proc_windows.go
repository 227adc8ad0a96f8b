// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build windows

package host

import (
	"context"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"

	"golang.org/x/sys/windows"
)

// configureDetached hides the console window and starts a new process
// group.
func configureDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP | windows.CREATE_NO_WINDOW,
		HideWindow:    true,
	}
}

// killTree terminates pid and its children with taskkill.
func killTree(ctx context.Context, pid int) error {
	cmd := exec.CommandContext(ctx, "taskkill", "/PID", strconv.Itoa(pid), "/T", "/F")
	configureDetached(cmd)
	if err := cmd.Run(); err != nil {
		// taskkill fails when the process already exited.
		log.Printf("host: taskkill %d: %v", pid, err)
	}
	return nil
}

func systemOllamaPaths() []string {
	var paths []string
	if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
		paths = append(paths, filepath.Join(dir, "Programs", "Ollama", "ollama.exe"))
	}
	paths = append(paths,
		`C:\Program Files\Ollama\ollama.exe`,
		`C:\Program Files (x86)\Ollama\ollama.exe`,
	)
	if home := os.Getenv("USERPROFILE"); home != "" {
		paths = append(paths, filepath.Join(home, "Ollama", "ollama.exe"))
	}
	return paths
}
