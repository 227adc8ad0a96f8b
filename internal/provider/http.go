// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	// DefaultTimeout bounds one hosted request.
	DefaultTimeout = 120 * time.Second

	// DefaultMaxRetries is the number of attempts for transient errors.
	DefaultMaxRetries = 3

	// MaxResponseSize caps a response body.
	MaxResponseSize = 10 * 1024 * 1024
)

// =============================================================================
// RESPONSE CAPTURE
// =============================================================================

// rawCapture keeps the last response body seen by the middleware.
type rawCapture struct {
	limit  int64
	target *url.URL

	mu     sync.Mutex
	status int
	body   []byte
	err    error
}

func (c *rawCapture) get() (int, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.body, c.err
}

// middleware records the body and strips the auth header when no key is
// configured, so ambient OPENAI_API_KEY values are never sent. A non-nil
// target replaces the request URL.
func (c *rawCapture) middleware(apiKey string) option.Middleware {
	return func(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
		if apiKey == "" {
			req.Header.Del("Authorization")
		}
		if c.target != nil {
			u := *c.target
			req.URL = &u
			req.Host = u.Host
		}
		// Headers are never logged; they may carry the API key.
		log.Printf("API Request: %s %s", req.Method, req.URL.Path)
		start := time.Now()

		resp, err := next(req)
		if err != nil || resp == nil {
			return resp, err
		}
		log.Printf("API Response: %d (%v)", resp.StatusCode, time.Since(start))

		data, readErr := io.ReadAll(io.LimitReader(resp.Body, c.limit+1))
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("failed to read response: %w", readErr)
		}

		var bodyErr error
		if int64(len(data)) > c.limit {
			// The status is kept so the client does not retry the download.
			bodyErr = fmt.Errorf("%w: limit is %d bytes", ErrResponseTooLarge, c.limit)
			data = nil
		}
		resp.Body = io.NopCloser(bytes.NewReader(data))

		c.mu.Lock()
		c.status, c.body, c.err = resp.StatusCode, data, bodyErr
		c.mu.Unlock()
		return resp, nil
	}
}

// =============================================================================
// COMPLETER
// =============================================================================

// completer builds per-request openai-go clients for one backend.
type completer struct {
	name       string
	httpClient *http.Client
	maxRetries int
	maxBody    int64
}

// newCompleter creates a completer. attempts counts the first try.
func newCompleter(name string, client *http.Client, attempts int) *completer {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	if attempts < 1 {
		attempts = 1
	}
	return &completer{name: name, httpClient: client, maxRetries: attempts - 1, maxBody: MaxResponseSize}
}

// client returns an openai-go client with the capture middleware installed.
func (c *completer) client(baseURL, apiKey string, capture *rawCapture, extra ...option.RequestOption) openai.Client {
	capture.limit = c.maxBody
	opts := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithHTTPClient(c.httpClient),
		option.WithMaxRetries(c.maxRetries),
		option.WithMiddleware(capture.middleware(apiKey)),
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return openai.NewClient(append(opts, extra...)...)
}

// complete POSTs params to the full endpoint URL and returns the raw 2xx
// body. The typed decode is ignored; callers parse the body loosely.
func (c *completer) complete(ctx context.Context, endpoint, apiKey string, params openai.ChatCompletionNewParams, extra ...option.RequestOption) ([]byte, error) {
	target, err := url.Parse(endpoint)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid %s URL %q", c.name, endpoint)
	}

	capture := &rawCapture{target: target}
	client := c.client(target.Scheme+"://"+target.Host+"/", apiKey, capture, extra...)
	_, err = client.Chat.Completions.New(ctx, params)

	status, raw, bodyErr := capture.get()
	switch {
	case bodyErr != nil:
		return nil, bodyErr
	case status >= 200 && status < 300:
		return raw, nil
	case err == nil:
		return raw, nil
	case status != 0 && ctx.Err() == nil:
		return nil, newAPIError(c.name, status, raw)
	}
	return nil, fmt.Errorf("request failed: %w", err)
}

// messageParams converts role-tagged history into openai-go message unions.
// Unknown roles are sent as user messages.
func messageParams(messages []ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
