// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package host

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/contextscan"
	"github.com/jeranaias/rigrun-chat/internal/events"
	"github.com/jeranaias/rigrun-chat/internal/model"
)

// Publisher receives progress and log events. *events.Bus implements it.
type Publisher interface {
	Progress(topic events.Topic, progress int, message string)
	LogLine(line string)
}

// ErrUnknownServer is returned for a server kind the host cannot manage.
var ErrUnknownServer = errors.New("unknown server")

// Host is the in-process implementation of the invocation boundary.
type Host struct {
	dataDir    string
	runtime    config.RuntimeConfig
	pub        Publisher
	httpClient *http.Client
	scans      *contextscan.Cache

	goos   string
	goarch string

	// retryDelay separates download attempts.
	retryDelay time.Duration
	resolveURL func(server model.ServerKind, variant, goos, goarch, tag string) (string, error)

	mu     sync.Mutex
	llama  *proc
	ollama *proc
}

// Option configures a Host.
type Option func(*Host)

// WithHTTPClient overrides the download client.
func WithHTTPClient(c *http.Client) Option {
	return func(h *Host) { h.httpClient = c }
}

// WithPlatform overrides the detected OS and architecture.
func WithPlatform(goos, goarch string) Option {
	return func(h *Host) { h.goos, h.goarch = goos, goarch }
}

// New creates a host rooted at dataDir. pub may be nil.
func New(dataDir string, rc config.RuntimeConfig, pub Publisher, opts ...Option) *Host {
	h := &Host{
		dataDir:    dataDir,
		runtime:    rc,
		pub:        pub,
		scans:      contextscan.NewCache(),
		goos:       runtime.GOOS,
		goarch:     runtime.GOARCH,
		retryDelay: 2 * time.Second,
		resolveURL: ReleaseURL,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.httpClient == nil {
		// Release assets are hundreds of MB; only connection setup is bounded.
		h.httpClient = &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			TLSHandshakeTimeout:   20 * time.Second,
			ResponseHeaderTimeout: 60 * time.Second,
			IdleConnTimeout:       30 * time.Second,
		}}
	}
	if h.runtime.DownloadAttempts <= 0 {
		h.runtime.DownloadAttempts = 3
	}
	if h.runtime.LlamaReleaseTag == "" {
		h.runtime.LlamaReleaseTag = DefaultLlamaTag
	}
	return h
}

// DataDir returns the root data directory.
func (h *Host) DataDir() string { return h.dataDir }

// RuntimeDir returns runtime/<server>/<variant>.
func (h *Host) RuntimeDir(server model.ServerKind, variant string) string {
	return filepath.Join(h.dataDir, "runtime", string(server), variant)
}

func (h *Host) llamaPIDFile() string {
	return filepath.Join(h.dataDir, "runtime", string(model.ServerLlamaCpp), "llama-server.pid")
}

func (h *Host) progress(topic events.Topic, p int, msg string) {
	if h.pub != nil {
		h.pub.Progress(topic, p, msg)
	}
}

func (h *Host) logLine(line string) {
	if h.pub != nil {
		h.pub.LogLine(line)
	}
}

// Close stops the context-folder watchers. Running servers are left alone.
func (h *Host) Close() error {
	return h.scans.Close()
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
