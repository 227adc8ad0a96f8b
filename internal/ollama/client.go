// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the Ollama client.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is matches sentinel errors by type.
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	if !ok {
		return false
	}
	return t.Type == e.Type && t.Type != ErrTypeUnknown
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeModelNotFound
	ErrTypeConnection
	ErrTypeInvalidResponse
	ErrTypePullFailed
)

// Sentinel errors for easy checking.
var (
	ErrNotRunning    = &ClientError{Type: ErrTypeNotRunning, Message: "Ollama is not running"}
	ErrTimeout       = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrModelNotFound = &ClientError{Type: ErrTypeModelNotFound, Message: "model not found"}
	ErrPullFailed    = &ClientError{Type: ErrTypePullFailed, Message: "model pull failed"}
)

// IsNotRunning reports whether err means the server could not be reached.
func IsNotRunning(err error) bool {
	return errors.Is(err, ErrNotRunning)
}

// IsModelNotFound reports whether err means the model is not installed.
func IsModelNotFound(err error) bool {
	return errors.Is(err, ErrModelNotFound)
}

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// DefaultBaseURL uses an explicit IPv4 address; "localhost" can resolve to
// ::1 on Windows where Ollama only listens on IPv4.
const DefaultBaseURL = "http://127.0.0.1:11434"

// ClientConfig holds configuration options for the Ollama client.
type ClientConfig struct {
	// BaseURL is the Ollama API base URL (default: http://127.0.0.1:11434)
	BaseURL string

	// Timeout for short requests such as /api/tags (default: 10s)
	Timeout time.Duration

	// ChatTimeout bounds a non-streaming chat call (default: 5m)
	ChatTimeout time.Duration

	// HTTPClient overrides the transport, mostly for tests.
	HTTPClient *http.Client
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:     DefaultBaseURL,
		Timeout:     10 * time.Second,
		ChatTimeout: 5 * time.Minute,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the Ollama API. It is safe for
// concurrent use.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
}

// NewClient creates a client for the default base URL.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a client with custom configuration. Zero
// fields take defaults.
func NewClientWithConfig(config *ClientConfig) *Client {
	cfg := *DefaultConfig()
	if config != nil {
		if config.BaseURL != "" {
			cfg.BaseURL = config.BaseURL
		}
		if config.Timeout > 0 {
			cfg.Timeout = config.Timeout
		}
		if config.ChatTimeout > 0 {
			cfg.ChatTimeout = config.ChatTimeout
		}
		cfg.HTTPClient = config.HTTPClient
	}
	cfg.BaseURL = NormalizeBaseURL(cfg.BaseURL)

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// Per-request timeouts come from contexts; pulls may run for hours.
		httpClient = &http.Client{}
	}
	return &Client{config: cfg, httpClient: httpClient}
}

// NormalizeBaseURL trims whitespace and trailing slashes, falling back to
// the default URL when empty.
func NormalizeBaseURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return DefaultBaseURL
	}
	return base
}

// BaseURL returns the normalized API base URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// CheckRunning verifies that Ollama answers on /api/tags.
func (c *Client) CheckRunning(ctx context.Context) error {
	_, err := c.ListModels(ctx)
	return err
}

// =============================================================================
// MODEL OPERATIONS
// =============================================================================

// ListModels retrieves all installed models.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, &ClientError{Type: ErrTypeNotRunning, Message: "Ollama is not running", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ClientError{
			Type:    ErrTypeInvalidResponse,
			Message: "failed to list models: " + resp.Status,
		}
	}

	var result ListModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return result.Models, nil
}

// HasModel reports whether name is installed. A name without a tag also
// matches its ":latest" variant.
func (c *Client) HasModel(ctx context.Context, name string) (bool, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false, err
	}
	return ContainsModel(models, name), nil
}

// ContainsModel reports whether name appears in models.
func ContainsModel(models []ModelInfo, name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	for _, m := range models {
		if m.Name == name || m.Model == name {
			return true
		}
		if !strings.Contains(name, ":") && (m.Name == name+":latest" || m.Model == name+":latest") {
			return true
		}
	}
	return false
}

// =============================================================================
// CHAT OPERATIONS
// =============================================================================

// ChatRaw posts body to /api/chat and returns the response body unparsed.
// Transport failures and non-2xx statuses are errors; decoding the body is
// left to the caller.
func (c *Client) ChatRaw(ctx context.Context, body map[string]any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.ChatTimeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, &ClientError{Type: ErrTypeConnection, Message: "chat request failed", Cause: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to read response", Cause: err}
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, &ClientError{Type: ErrTypeModelNotFound, Message: "model not found", Cause: errors.New(decodeAPIError(data, resp.Status))}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "Ollama error", Cause: errors.New(decodeAPIError(data, resp.Status))}
	}
	return data, nil
}

// maxResponseSize caps a chat response body (10MB).
const maxResponseSize = 10 * 1024 * 1024

func decodeAPIError(data []byte, status string) string {
	var apiErr apiError
	if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error != "" {
		return apiErr.Error
	}
	if s := strings.TrimSpace(string(data)); s != "" {
		return fmt.Sprintf("%s: %s", status, s)
	}
	return status
}

// =============================================================================
// PULL
// =============================================================================

// Pull downloads a model, calling fn for every NDJSON progress line. It
// returns nil only after a "success" line; a stream that ends without one,
// or an "error" line, is ErrPullFailed.
func (c *Client) Pull(ctx context.Context, model string, fn func(PullProgress)) error {
	payload, err := json.Marshal(PullRequest{Model: model, Stream: true})
	if err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/pull", bytes.NewReader(payload))
	if err != nil {
		return &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ClientError{Type: ErrTypeConnection, Message: "pull request failed", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return &ClientError{Type: ErrTypePullFailed, Message: "model pull failed", Cause: errors.New(decodeAPIError(data, resp.Status))}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var p PullProgress
		if err := json.Unmarshal(line, &p); err != nil {
			continue
		}
		if p.Error != "" {
			return &ClientError{Type: ErrTypePullFailed, Message: "model pull failed", Cause: errors.New(p.Error)}
		}
		if fn != nil {
			fn(p)
		}
		if p.IsSuccess() {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ClientError{Type: ErrTypeConnection, Message: "pull stream interrupted", Cause: err}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &ClientError{Type: ErrTypePullFailed, Message: "model pull failed", Cause: errors.New("stream ended without success")}
}
