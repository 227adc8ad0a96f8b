// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// HFPrefix marks a model reference as a Hugging Face repository.
const HFPrefix = "hf:"

// maxLogLine flushes a log line that has no delimiter.
const maxLogLine = 32 * 1024

// LlamaStartOptions configures a llama.cpp server launch.
type LlamaStartOptions struct {
	// ModelRef is "hf:<repo>[:quant]" or a local .gguf path.
	ModelRef string
	Variant  string
	Port     int
}

// =============================================================================
// LLAMA.CPP
// =============================================================================

// StartLlamaServer spawns llama-server and returns once the process runs.
// Its stdout and stderr lines are published as llamacpp_server_log events.
func (h *Host) StartLlamaServer(ctx context.Context, opts LlamaStartOptions) error {
	if opts.Port <= 0 || opts.Port > 65535 {
		return fmt.Errorf("invalid port %d", opts.Port)
	}
	if opts.Variant == VariantCPUArm && h.goarch != "arm64" {
		return fmt.Errorf("variant %q only runs on arm64 hosts (current architecture: %s); choose %q",
			VariantCPUArm, h.goarch, VariantCPU)
	}

	bin := h.FindBinary(model.ServerLlamaCpp, opts.Variant)
	if bin == "" {
		return fmt.Errorf("llama-server not found in %s", h.RuntimeDir(model.ServerLlamaCpp, opts.Variant))
	}

	args, err := llamaArgs(opts)
	if err != nil {
		return err
	}

	cmd := exec.Command(bin, args...)
	cmd.Dir = h.RuntimeDir(model.ServerLlamaCpp, opts.Variant)
	cmd.Env = os.Environ()
	configureDetached(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.llama.running() {
		return errors.New("llama.cpp server is already running")
	}

	log.Printf("host: starting %s %s", bin, strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	h.llama = newProc(cmd)

	pidFile := h.llamaPIDFile()
	if err := os.MkdirAll(filepath.Dir(pidFile), 0o755); err == nil {
		if err := os.WriteFile(pidFile, []byte(strconv.Itoa(cmd.Process.Pid)), 0o644); err != nil {
			log.Printf("host: write pid file: %v", err)
		}
	}

	go h.llama.reap(h.logLine, stdout, stderr)
	return nil
}

func llamaArgs(opts LlamaStartOptions) ([]string, error) {
	ngl := "99"
	if opts.Variant == VariantCPU || opts.Variant == VariantCPUArm {
		ngl = "0"
	}
	var args []string
	if ref, ok := strings.CutPrefix(opts.ModelRef, HFPrefix); ok {
		args = []string{"-hf", ref}
	} else {
		if !exists(opts.ModelRef) {
			return nil, fmt.Errorf("model file not found: %s", opts.ModelRef)
		}
		args = []string{"-m", opts.ModelRef}
	}
	return append(args,
		"-c", "2048",
		"-ngl", ngl,
		"--host", "127.0.0.1",
		"--port", strconv.Itoa(opts.Port),
	), nil
}

// StopLlamaServer kills the server recorded in the pid file, including a
// server left over from a previous run. A missing pid file is not an error.
// A recorded pid that no longer belongs to llama-server is left alone.
func (h *Host) StopLlamaServer(ctx context.Context) error {
	h.mu.Lock()
	p := h.llama
	h.llama = nil
	h.mu.Unlock()

	pidFile := h.llamaPIDFile()
	data, err := os.ReadFile(pidFile)
	if err != nil {
		if p.running() {
			return killTree(ctx, p.cmd.Process.Pid)
		}
		return nil
	}
	defer os.Remove(pidFile)

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		pid = 0
	}
	if p.running() && p.cmd.Process.Pid == pid {
		log.Printf("host: stopping llama.cpp server pid %d", pid)
		return killTree(ctx, pid)
	}
	var errs []error
	if p.running() {
		errs = append(errs, killTree(ctx, p.cmd.Process.Pid))
	}
	if pid > 0 {
		if isLlamaProcess(ctx, pid) {
			log.Printf("host: stopping leftover llama.cpp server pid %d", pid)
			errs = append(errs, killTree(ctx, pid))
		} else {
			log.Printf("host: pid %d from %s is not llama-server; skipping", pid, pidFile)
		}
	}
	return errors.Join(errs...)
}

// isLlamaProcess reports whether pid is a live llama-server process.
func isLlamaProcess(ctx context.Context, pid int) bool {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return false
	}
	name, err := p.NameWithContext(ctx)
	if err != nil {
		return false
	}
	name = strings.TrimSuffix(strings.ToLower(filepath.Base(name)), ".exe")
	return name == "llama-server"
}

// =============================================================================
// OLLAMA
// =============================================================================

// StartOllamaServer spawns "ollama serve" using the bundled binary of
// variant, falling back to a system install.
func (h *Host) StartOllamaServer(ctx context.Context, variant string) error {
	bin := h.FindBinary(model.ServerOllama, variant)
	dir := ""
	if bin != "" {
		dir = h.RuntimeDir(model.ServerOllama, variant)
	} else {
		var err error
		if bin, err = findSystemOllama(); err != nil {
			return fmt.Errorf("failed to start Ollama: %w. Make sure Ollama is installed or install it with 'rigrun-chat install'", err)
		}
	}

	cmd := exec.Command(bin, "serve")
	cmd.Dir = dir
	// GPU selection variables such as OLLAMA_VULKAN must reach the child.
	cmd.Env = os.Environ()
	configureDetached(cmd)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ollama.running() {
		return nil
	}
	log.Printf("host: starting %s serve", bin)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start Ollama (path: %s): %w", bin, err)
	}
	h.ollama = newProc(cmd)
	go h.ollama.reap(nil)
	return nil
}

// StopOllamaServer stops the Ollama process this host spawned. An Ollama
// service started elsewhere is left running.
func (h *Host) StopOllamaServer(ctx context.Context) error {
	h.mu.Lock()
	p := h.ollama
	h.ollama = nil
	h.mu.Unlock()

	if !p.running() {
		return nil
	}
	return killTree(ctx, p.cmd.Process.Pid)
}

// findSystemOllama looks in PATH and the common install locations.
func findSystemOllama() (string, error) {
	for _, name := range []string{"ollama", "ollama.exe"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	for _, p := range systemOllamaPaths() {
		if exists(p) {
			return p, nil
		}
	}
	return "", errors.New("ollama not found in PATH or common installation directories")
}

// =============================================================================
// PROCESS HELPERS
// =============================================================================

// proc is a spawned server process.
type proc struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func newProc(cmd *exec.Cmd) *proc {
	return &proc{cmd: cmd, done: make(chan struct{})}
}

// running reports whether the process has not exited yet. A nil proc is
// not running.
func (p *proc) running() bool {
	if p == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// reap drains the output pipes into emit, then waits for the process.
func (p *proc) reap(emit func(string), pipes ...io.Reader) {
	start := time.Now()
	var wg sync.WaitGroup
	for _, r := range pipes {
		wg.Add(1)
		go func(r io.Reader) {
			defer wg.Done()
			streamLines(r, emit)
		}(r)
	}
	wg.Wait()
	err := p.cmd.Wait()
	close(p.done)
	log.Printf("host: %s exited after %v: %v", filepath.Base(p.cmd.Path), time.Since(start).Round(time.Second), err)
}

// streamLines splits r on '\r' or '\n' and calls emit for every non-empty
// UTF-8 line. Curl-style progress bars rewrite a line with '\r'.
func streamLines(r io.Reader, emit func(string)) {
	buf := make([]byte, 4096)
	line := make([]byte, 0, 8192)
	flush := func() {
		if len(line) > 0 && utf8.Valid(line) {
			emit(string(line))
		}
		line = line[:0]
	}
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			if b == '\n' || b == '\r' {
				flush()
				continue
			}
			line = append(line, b)
			if len(line) > maxLogLine {
				flush()
			}
		}
		if err != nil {
			flush()
			return
		}
	}
}
