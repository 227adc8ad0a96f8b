// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package host

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/events"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/ollama"
)

// fakePublisher records published events.
type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
	lines  []string
}

func (f *fakePublisher) Progress(topic events.Topic, p int, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, events.Event{Topic: topic, Progress: p, Message: msg})
}

func (f *fakePublisher) LogLine(line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, line)
}

func (f *fakePublisher) snapshot() []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]events.Event(nil), f.events...)
}

func newTestHost(t *testing.T, pub Publisher, opts ...Option) *Host {
	t.Helper()
	h := New(t.TempDir(), config.Default().Runtime, pub, opts...)
	h.retryDelay = time.Millisecond
	t.Cleanup(func() { h.Close() })
	return h
}

// =============================================================================
// LINKS
// =============================================================================

func TestReleaseURL(t *testing.T) {
	tests := []struct {
		server  model.ServerKind
		variant string
		goos    string
		goarch  string
		want    string
		wantErr bool
	}{
		{model.ServerLlamaCpp, "cpu", "win", "amd64", "https://github.com/ggml-org/llama.cpp/releases/download/b6134/llama-b6134-bin-win-cpu-x64.zip", false},
		{model.ServerLlamaCpp, "cuda_12", "windows", "amd64", "https://github.com/ggml-org/llama.cpp/releases/download/b6134/llama-b6134-bin-win-cuda-12.4-x64.zip", false},
		{model.ServerLlamaCpp, "vulkan", "linux", "amd64", "https://github.com/ggml-org/llama.cpp/releases/download/b6134/llama-b6134-bin-linux-vulkan-x64.tar.gz", false},
		{model.ServerLlamaCpp, "anything", "darwin", "arm64", "https://github.com/ggml-org/llama.cpp/releases/download/b6134/llama-b6134-bin-macos-universal.zip", false},
		{model.ServerLlamaCpp, "cpu_arm", "linux", "arm64", "", true},
		{model.ServerLlamaCpp, "cpu", "plan9", "amd64", "", true},
		{model.ServerOllama, "cpu", "linux", "arm64", "https://github.com/ollama/ollama/releases/latest/download/ollama-linux-arm64.tgz", false},
		{model.ServerOllama, "hip_radeon", "linux", "amd64", "https://github.com/ollama/ollama/releases/latest/download/ollama-linux-amd64-rocm.tgz", false},
		{model.ServerOllama, "cpu_arm", "win32", "arm64", "https://github.com/ollama/ollama/releases/latest/download/ollama-windows-arm64.zip", false},
		{model.ServerOllama, "cpu", "osx", "arm64", "https://github.com/ollama/ollama/releases/latest/download/Ollama.dmg", false},
		{model.ServerKind("vllm"), "cpu", "linux", "amd64", "", true},
	}
	for _, tt := range tests {
		got, err := ReleaseURL(tt.server, tt.variant, tt.goos, tt.goarch, "b6134")
		if tt.wantErr {
			assert.Error(t, err, "%s/%s/%s", tt.server, tt.variant, tt.goos)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestNormalizeOS(t *testing.T) {
	assert.Equal(t, "windows", NormalizeOS("Win32"))
	assert.Equal(t, "macos", NormalizeOS(" darwin "))
	assert.Equal(t, "linux", NormalizeOS("LINUX"))
	assert.Equal(t, "freebsd", NormalizeOS("freebsd"))
}

// =============================================================================
// INSTALL CHECK
// =============================================================================

func TestCheckBinaryInstalled(t *testing.T) {
	h := newTestHost(t, nil, WithPlatform("linux", "amd64"))
	ctx := context.Background()

	ok, err := h.CheckBinaryInstalled(ctx, model.ServerLlamaCpp, "cpu")
	require.NoError(t, err)
	assert.False(t, ok)

	dir := filepath.Join(h.RuntimeDir(model.ServerLlamaCpp, "cpu"), "build", "bin")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "llama-server"), []byte("#!/bin/sh\n"), 0o755))

	ok, err = h.CheckBinaryInstalled(ctx, model.ServerLlamaCpp, "cpu")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.CheckBinaryInstalled(ctx, model.ServerLlamaCpp, "vulkan")
	require.NoError(t, err)
	assert.False(t, ok, "variants are installed separately")

	_, err = h.CheckBinaryInstalled(ctx, model.ServerKind("nope"), "cpu")
	assert.ErrorIs(t, err, ErrUnknownServer)
}

func TestCheckBinaryInstalled_MacDMG(t *testing.T) {
	h := newTestHost(t, nil, WithPlatform("darwin", "arm64"))
	dir := h.RuntimeDir(model.ServerOllama, "cpu")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Ollama.dmg"), []byte("dmg"), 0o644))

	ok, err := h.CheckBinaryInstalled(context.Background(), model.ServerOllama, "cpu")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFindFirst_Depth(t *testing.T) {
	root := t.TempDir()
	deep := filepath.Join(root, "a", "b", "c", "d", "e", "f")
	require.NoError(t, os.MkdirAll(deep, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(deep, "LLAMA-SERVER"), nil, 0o644))

	assert.Empty(t, findFirst(root, []string{"llama-server"}, 5))
	assert.NotEmpty(t, findFirst(root, []string{"llama-server"}, 7))
}

// =============================================================================
// DOWNLOAD
// =============================================================================

func zipArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDownloadServerBinaries_Zip(t *testing.T) {
	archive := zipArchive(t, map[string]string{
		"llama-server.exe": "MZ",
		"ggml.dll":         "dll",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "asset.zip", time.Time{}, bytes.NewReader(archive))
	}))
	defer srv.Close()

	pub := &fakePublisher{}
	h := newTestHost(t, pub, WithPlatform("windows", "amd64"))
	h.resolveURL = func(model.ServerKind, string, string, string, string) (string, error) {
		return srv.URL + "/llama-bin-win-cpu-x64.zip", nil
	}

	require.NoError(t, h.DownloadServerBinaries(context.Background(), model.ServerLlamaCpp, "cpu", ""))

	ok, err := h.CheckBinaryInstalled(context.Background(), model.ServerLlamaCpp, "cpu")
	require.NoError(t, err)
	assert.True(t, ok)

	evs := pub.snapshot()
	require.NotEmpty(t, evs)
	assert.Equal(t, 0, evs[0].Progress)
	var sawExtract, sawUnpack bool
	for _, ev := range evs {
		assert.Equal(t, events.TopicBinaryDownload, ev.Topic)
		assert.True(t, ev.Progress >= 0 && ev.Progress <= 100)
		if ev.Message == "Extracting archive..." {
			sawExtract = ev.Progress == 50
		}
		if strings.HasPrefix(ev.Message, "Unpacking ") {
			sawUnpack = true
		}
	}
	assert.True(t, sawExtract)
	assert.True(t, sawUnpack)

	assert.NoFileExists(t, filepath.Join(h.DataDir(), "llama-cpp_cpu_temp.zip"))
}

func TestDownloadServerBinaries_ResumesPartialFile(t *testing.T) {
	archive := zipArchive(t, map[string]string{"llama-server": "ELF"})
	var ranges []string
	var mu sync.Mutex
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ranges = append(ranges, r.Header.Get("Range"))
		mu.Unlock()
		if calls.Add(1) == 1 {
			// Advertise the full length but drop the connection halfway.
			w.Header().Set("Content-Length", fmt.Sprint(len(archive)))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(archive[:len(archive)/2])
			w.(http.Flusher).Flush()
			if hj, ok := w.(http.Hijacker); ok {
				conn, _, _ := hj.Hijack()
				conn.Close()
			}
			return
		}
		http.ServeContent(w, r, "asset.zip", time.Time{}, bytes.NewReader(archive))
	}))
	defer srv.Close()

	h := newTestHost(t, nil, WithPlatform("linux", "amd64"))
	h.resolveURL = func(model.ServerKind, string, string, string, string) (string, error) {
		return srv.URL + "/asset.zip", nil
	}

	require.NoError(t, h.DownloadServerBinaries(context.Background(), model.ServerLlamaCpp, "cpu", ""))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, ranges, 2)
	assert.Empty(t, ranges[0])
	assert.Equal(t, fmt.Sprintf("bytes=%d-", len(archive)/2), ranges[1])

	data, err := os.ReadFile(filepath.Join(h.RuntimeDir(model.ServerLlamaCpp, "cpu"), "llama-server"))
	require.NoError(t, err)
	assert.Equal(t, "ELF", string(data))
}

func TestDownloadServerBinaries_GivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	h := newTestHost(t, nil)
	h.resolveURL = func(model.ServerKind, string, string, string, string) (string, error) {
		return srv.URL + "/asset.tgz", nil
	}

	err := h.DownloadServerBinaries(context.Background(), model.ServerOllama, "cpu", "linux")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, int32(3), calls.Load())
}

func TestExtractTarGz(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "bin/", Typeflag: tar.TypeDir, Mode: 0o755}))
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "bin/ollama", Typeflag: tar.TypeReg, Mode: 0o755, Size: 3}))
	_, err := tw.Write([]byte("ELF"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	dir := t.TempDir()
	src := filepath.Join(dir, "a.tgz")
	require.NoError(t, os.WriteFile(src, buf.Bytes(), 0o644))

	out := filepath.Join(dir, "out")
	require.NoError(t, extractTarGz(src, out))
	assert.FileExists(t, filepath.Join(out, "bin", "ollama"))
}

func TestSafeJoin(t *testing.T) {
	dir := t.TempDir()
	_, err := safeJoin(dir, "../evil")
	assert.ErrorIs(t, err, errUnsafePath)
	_, err = safeJoin(dir, "/etc/passwd")
	assert.ErrorIs(t, err, errUnsafePath)
	p, err := safeJoin(dir, "a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a", "b.txt"), p)
}

func TestParseContentRangeTotal(t *testing.T) {
	assert.Equal(t, int64(1234), parseContentRangeTotal("bytes 100-1233/1234"))
	assert.Equal(t, int64(0), parseContentRangeTotal("bytes 100-1233/*"))
	assert.Equal(t, int64(0), parseContentRangeTotal(""))
}

// =============================================================================
// PROCESSES
// =============================================================================

func TestLlamaArgs(t *testing.T) {
	args, err := llamaArgs(LlamaStartOptions{ModelRef: "hf:bartowski/repo:Q8_0", Variant: "cpu", Port: 8080})
	require.NoError(t, err)
	assert.Equal(t, []string{"-hf", "bartowski/repo:Q8_0", "-c", "2048", "-ngl", "0", "--host", "127.0.0.1", "--port", "8080"}, args)

	modelPath := filepath.Join(t.TempDir(), "m.gguf")
	require.NoError(t, os.WriteFile(modelPath, []byte("gguf"), 0o644))
	args, err = llamaArgs(LlamaStartOptions{ModelRef: modelPath, Variant: "cuda_12", Port: 9000})
	require.NoError(t, err)
	assert.Equal(t, []string{"-m", modelPath, "-c", "2048", "-ngl", "99", "--host", "127.0.0.1", "--port", "9000"}, args)

	_, err = llamaArgs(LlamaStartOptions{ModelRef: "/no/such/model.gguf", Variant: "cpu", Port: 1})
	assert.Error(t, err)
}

func TestStartLlamaServer_Guards(t *testing.T) {
	h := newTestHost(t, nil, WithPlatform("linux", "amd64"))
	ctx := context.Background()

	err := h.StartLlamaServer(ctx, LlamaStartOptions{ModelRef: "hf:x", Variant: "cpu_arm", Port: 8080})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "arm64")

	err = h.StartLlamaServer(ctx, LlamaStartOptions{ModelRef: "hf:x", Variant: "cpu", Port: 8080})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	assert.Error(t, h.StartLlamaServer(ctx, LlamaStartOptions{Port: 0}))
}

func TestStopLlamaServer_NoPIDFile(t *testing.T) {
	h := newTestHost(t, nil)
	assert.NoError(t, h.StopLlamaServer(context.Background()))
	assert.NoError(t, h.StopOllamaServer(context.Background()))
}

func TestStopLlamaServer_StalePIDFile(t *testing.T) {
	h := newTestHost(t, nil)
	pidFile := h.llamaPIDFile()
	require.NoError(t, os.MkdirAll(filepath.Dir(pidFile), 0o755))
	require.NoError(t, os.WriteFile(pidFile, []byte("  \n"), 0o644))

	assert.NoError(t, h.StopLlamaServer(context.Background()))
	assert.NoFileExists(t, pidFile)
}

func TestStopLlamaServer_SkipsForeignPID(t *testing.T) {
	h := newTestHost(t, nil)
	pidFile := h.llamaPIDFile()
	require.NoError(t, os.MkdirAll(filepath.Dir(pidFile), 0o755))
	// The test binary stands in for an unrelated process that reused the pid.
	require.NoError(t, os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0o644))

	assert.NoError(t, h.StopLlamaServer(context.Background()))
	assert.NoFileExists(t, pidFile)
	assert.False(t, isLlamaProcess(context.Background(), os.Getpid()))
}

func TestStopLlamaServer_KillsOwnProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sleep")
	}
	h := newTestHost(t, nil)
	cmd := exec.Command("sleep", "30")
	configureDetached(cmd)
	require.NoError(t, cmd.Start())
	p := newProc(cmd)
	go p.reap(nil)
	h.mu.Lock()
	h.llama = p
	h.mu.Unlock()
	require.True(t, p.running())

	require.NoError(t, h.StopLlamaServer(context.Background()))
	select {
	case <-p.done:
	case <-time.After(10 * time.Second):
		t.Fatal("process still running")
	}
	assert.False(t, p.running())
	assert.Nil(t, h.llama)
}

func TestIsLlamaProcess_Unknown(t *testing.T) {
	assert.False(t, isLlamaProcess(context.Background(), 1<<30))
}

func TestStreamLines(t *testing.T) {
	input := "loading model\r 10 100M 10 10M\r 20 100M 20 20M\n\nserver listening\n" + "tail"
	var got []string
	streamLines(strings.NewReader(input), func(s string) { got = append(got, s) })
	assert.Equal(t, []string{"loading model", " 10 100M 10 10M", " 20 100M 20 20M", "server listening", "tail"}, got)
}

func TestStreamLines_SkipsInvalidUTF8(t *testing.T) {
	var got []string
	streamLines(bytes.NewReader([]byte{0xff, 0xfe, '\n', 'o', 'k', '\n'}), func(s string) { got = append(got, s) })
	assert.Equal(t, []string{"ok"}, got)
}

// =============================================================================
// OLLAMA PULL
// =============================================================================

func TestPullOllamaModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/pull", r.URL.Path)
		lines := []string{
			`{"status":"pulling manifest"}`,
			`{"status":"pulling","digest":"sha256:abcdef0123456789","total":1000,"completed":500}`,
			`{"status":"pulling","digest":"sha256:abcdef0123456789","total":1000,"completed":1000}`,
			`{"status":"success"}`,
		}
		for _, l := range lines {
			fmt.Fprintln(w, l)
		}
	}))
	defer srv.Close()

	pub := &fakePublisher{}
	h := newTestHost(t, pub)
	require.NoError(t, h.PullOllamaModel(context.Background(), srv.URL, "llama3"))

	evs := pub.snapshot()
	require.NotEmpty(t, evs)
	last := evs[len(evs)-1]
	assert.Equal(t, 100, last.Progress)
	assert.Equal(t, "Model downloaded", last.Message)
	for _, ev := range evs[:len(evs)-1] {
		assert.Equal(t, events.TopicOllamaPull, ev.Topic)
		assert.LessOrEqual(t, ev.Progress, 99)
	}
}

func TestPullOllamaModel_NoSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"status":"pulling manifest"}`)
	}))
	defer srv.Close()

	pub := &fakePublisher{}
	h := newTestHost(t, pub)
	err := h.PullOllamaModel(context.Background(), srv.URL, "llama3")
	require.Error(t, err)
	for _, ev := range pub.snapshot() {
		assert.NotEqual(t, 100, ev.Progress)
	}
}

func TestPullHelpers(t *testing.T) {
	tests := []struct {
		total, completed int64
		want             int
	}{
		{0, 10, 0},
		{100, 50, 49},
		{100, 100, 99},
		{100, 150, 99},
	}
	for _, tt := range tests {
		p := pullPercent(ollama.PullProgress{Total: tt.total, Completed: tt.completed})
		assert.Equal(t, tt.want, p)
	}

	msg := pullMessage(ollama.PullProgress{Status: "pulling", Digest: "sha256:abcdef0123", Total: 2048, Completed: 1024})
	assert.Equal(t, "Downloading sha256:abcde: 1.0 KB of 2.0 KB", msg)
	assert.Equal(t, "Done", pullMessage(ollama.PullProgress{Status: "success"}))
}

// =============================================================================
// CONTEXT AND USAGE
// =============================================================================

func TestScanContextFolder(t *testing.T) {
	h := newTestHost(t, nil)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.md"), []byte("hello"), 0o644))

	got, err := h.ScanContextFolder(context.Background(), root, 0, 0, 0)
	require.NoError(t, err)
	assert.Contains(t, got, "[a.md]")

	got, err = h.ScanContextFolder(context.Background(), "  ", 0, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSystemUsage(t *testing.T) {
	h := newTestHost(t, nil)
	u, err := h.SystemUsage(context.Background())
	if err != nil {
		t.Skipf("system usage unavailable: %v", err)
	}
	assert.True(t, u.MemTotal > 0)
	assert.True(t, u.MemUsed <= u.MemTotal)
	assert.True(t, u.CPUPercent >= 0 && u.CPUPercent <= 100)
}
