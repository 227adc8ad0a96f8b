// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is an httptest handler that records the last request.
type recorder struct {
	calls  atomic.Int32
	body   map[string]any
	header http.Header
	path   string
	status int
	reply  string
}

func (r *recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.calls.Add(1)
	r.header = req.Header.Clone()
	r.path = req.URL.Path
	data, _ := io.ReadAll(req.Body)
	r.body = nil
	_ = json.Unmarshal(data, &r.body)
	status := r.status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, r.reply)
}

func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

// =============================================================================
// DEEPSEEK
// =============================================================================

func TestDeepSeek_RequestShape(t *testing.T) {
	rec := &recorder{reply: `{"id":"x1","model":"deepseek-chat","choices":[{"message":{"content":"hello"}}],"usage":{"total_tokens":7}}`}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	a := NewDeepSeekAdapter(srv.Client())
	res, err := a.Chat(context.Background(), DeepSeekRequest{URL: srv.URL + "/chat/completions", APIKey: "sk-test", Prompt: "hi"})
	require.NoError(t, err)

	assert.Equal(t, "hello", res.Content)
	assert.Equal(t, "deepseek-chat", res.Meta.String("model"))
	assert.Equal(t, "x1", res.Meta.String("id"))
	assert.Equal(t, "Bearer sk-test", rec.header.Get("Authorization"))
	assert.Equal(t, "/chat/completions", rec.path)
	assert.Equal(t, DefaultDeepSeekModel, rec.body["model"])
	assert.Equal(t, 0.7, rec.body["temperature"])

	msgs, ok := rec.body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 1)
	assert.Equal(t, map[string]any{"role": "user", "content": "hi"}, msgs[0])
}

func TestDeepSeek_NoKeyNoAuthHeader(t *testing.T) {
	rec := &recorder{reply: `{"choices":[{"message":{"content":"ok"}}]}`}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	_, err := NewDeepSeekAdapter(srv.Client()).Chat(context.Background(), DeepSeekRequest{URL: srv.URL, Prompt: "hi"})
	require.NoError(t, err)
	_, present := rec.header["Authorization"]
	assert.False(t, present)
}

func TestDeepSeek_DefensiveParse(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{"not json", "plain text reply", "plain text reply"},
		{"no choices", `{"object":"chat.completion"}`, `{"object":"chat.completion"}`},
		{"text choice", `{"choices":[{"text":"legacy"}]}`, "legacy"},
		{"empty body", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(&recorder{reply: tt.reply})
			defer srv.Close()

			res, err := NewDeepSeekAdapter(srv.Client()).Chat(context.Background(), DeepSeekRequest{URL: srv.URL, Prompt: "x"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Content)
			assert.Equal(t, tt.reply, res.Raw)
		})
	}
}

func TestDeepSeek_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"third time"}}]}`)
	}))
	defer srv.Close()

	a := NewDeepSeekAdapter(srv.Client())
	res, err := a.Chat(context.Background(), DeepSeekRequest{URL: srv.URL, Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "third time", res.Content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDeepSeek_RetriesExhausted(t *testing.T) {
	rec := &recorder{status: http.StatusServiceUnavailable, reply: "busy"}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	_, err := NewDeepSeekAdapter(srv.Client()).Chat(context.Background(), DeepSeekRequest{URL: srv.URL, Prompt: "x"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Equal(t, "busy", apiErr.Message)
	assert.Equal(t, int32(DefaultMaxRetries), rec.calls.Load())
}

func TestDeepSeek_AuthFailureNotRetried(t *testing.T) {
	rec := &recorder{status: http.StatusUnauthorized, reply: `{"error":{"message":"bad key","type":"authentication_error"}}`}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	_, err := NewDeepSeekAdapter(srv.Client()).Chat(context.Background(), DeepSeekRequest{URL: srv.URL, APIKey: "bad", Prompt: "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuthFailed))
	assert.Contains(t, err.Error(), "bad key")
	assert.Equal(t, int32(1), rec.calls.Load())
}

func TestDeepSeek_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := NewDeepSeekAdapter(nil).Chat(context.Background(), DeepSeekRequest{URL: addr, Prompt: "x"})
	assert.Error(t, err)
}

// =============================================================================
// OPENAI-COMPATIBLE
// =============================================================================

func TestOpenAI_Chat(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	rec := &recorder{reply: `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"pong"}}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	res, err := NewOpenAIAdapter(srv.Client()).Chat(context.Background(), OpenAIRequest{
		BaseURL: srv.URL + "/v1/",
		APIKey:  "sk-openai",
		Model:   "gpt-4o-mini",
		Prompt:  "ping",
	})
	require.NoError(t, err)

	assert.Equal(t, "pong", res.Content)
	assert.Equal(t, "/v1/chat/completions", rec.path)
	assert.Equal(t, "Bearer sk-openai", rec.header.Get("Authorization"))
	assert.Equal(t, 0.7, rec.body["temperature"])
	assert.Equal(t, "gpt-4o-mini", res.Meta.String("model"))
	assert.NotNil(t, res.Meta["usage"])
}

func TestOpenAI_NoKeyStripsAmbientAuth(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "ambient-key")
	rec := &recorder{reply: `{"id":"c1","model":"m","choices":[{"message":{"role":"assistant","content":"ok"}}]}`}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	_, err := NewOpenAIAdapter(srv.Client()).Chat(context.Background(), OpenAIRequest{BaseURL: srv.URL, Model: "m", Prompt: "x"})
	require.NoError(t, err)
	assert.Empty(t, rec.header.Get("Authorization"))
}

func TestOpenAI_NonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, "upstream said hello")
	}))
	defer srv.Close()

	res, err := NewOpenAIAdapter(srv.Client()).Chat(context.Background(), OpenAIRequest{BaseURL: srv.URL, APIKey: "k", Model: "m", Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "upstream said hello", res.Content)
}

func TestOpenAI_OversizedBody(t *testing.T) {
	rec := &recorder{reply: `{"choices":[{"message":{"content":"` + strings.Repeat("a", 2048) + `"}}]}`}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	a := NewOpenAIAdapter(srv.Client())
	a.http.maxBody = 1024

	_, err := a.Chat(context.Background(), OpenAIRequest{BaseURL: srv.URL, APIKey: "k", Model: "m", Prompt: "x"})
	assert.ErrorIs(t, err, ErrResponseTooLarge)
	assert.Equal(t, int32(1), rec.calls.Load())
}

func TestDeepSeek_OversizedBody(t *testing.T) {
	rec := &recorder{reply: strings.Repeat("b", 1025)}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	a := NewDeepSeekAdapter(srv.Client())
	a.http.maxBody = 1024

	_, err := a.Chat(context.Background(), DeepSeekRequest{URL: srv.URL, Prompt: "x"})
	assert.ErrorIs(t, err, ErrResponseTooLarge)
	assert.Equal(t, int32(1), rec.calls.Load())

	// A body exactly at the limit is accepted.
	rec.reply = strings.Repeat("b", 1024)
	res, err := a.Chat(context.Background(), DeepSeekRequest{URL: srv.URL, Prompt: "x"})
	require.NoError(t, err)
	assert.Len(t, res.Raw, 1024)
}

// =============================================================================
// OLLAMA
// =============================================================================

func TestOllama_EmbeddingsGuardMakesNoRequest(t *testing.T) {
	rec := &recorder{reply: `{}`}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	for _, name := range []string{"nomic-embed-text", "mxbai-EMBEDDING-large", "Embed"} {
		res, err := NewOllamaAdapter(srv.Client()).Chat(context.Background(), OllamaRequest{BaseURL: srv.URL, Model: name, Prompt: "x"})
		require.NoError(t, err)
		assert.Equal(t, EmbeddingsOnlyMessage, res.Content)
		assert.Equal(t, "embeddings_only", res.Meta.String("note"))
		assert.Equal(t, name, res.Meta.String("model"))
	}
	assert.Equal(t, int32(0), rec.calls.Load())
}

func TestOllama_BodyAndParse(t *testing.T) {
	rec := &recorder{reply: `{"model":"llama3","message":{"role":"assistant","content":"hi there"},"done":true,"total_duration":1500,"eval_count":12}`}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	res, err := NewOllamaAdapter(srv.Client()).Chat(context.Background(), OllamaRequest{
		BaseURL:  srv.URL + "/",
		Model:    "llama3",
		Messages: []ChatMessage{{Role: "system", Content: "ctx"}, {Role: "user", Content: "hi"}},
		Params:   DefaultGenerationParams(),
		Advanced: map[string]any{"keep_alive": "5m", "options": map[string]any{"num_ctx": 8192.0, "temperature": 0.2}},
	})
	require.NoError(t, err)

	assert.Equal(t, "/api/chat", rec.path)
	assert.Equal(t, false, rec.body["stream"])
	assert.Equal(t, "5m", rec.body["keep_alive"])
	opts := rec.body["options"].(map[string]any)
	assert.Equal(t, 0.2, opts["temperature"])
	assert.Equal(t, 8192.0, opts["num_ctx"])
	assert.Equal(t, 40.0, opts["top_k"])
	assert.Equal(t, -1.0, opts["num_predict"])
	assert.Len(t, rec.body["messages"], 2)

	assert.Equal(t, "hi there", res.Content)
	assert.Equal(t, "llama3", res.Meta.String("model"))
	n, ok := res.Meta.Number("eval_count")
	assert.True(t, ok)
	assert.Equal(t, 12.0, n)
	_, ok = res.Meta["load_duration"]
	assert.False(t, ok)
}

func TestOllama_ParseFallbacks(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{"generate style", `{"model":"m","response":"from response"}`, "from response"},
		{"unknown shape", `{"status":"weird"}`, `{"status":"weird"}`},
		{"not json", "<html>oops</html>", "<html>oops</html>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := parseOllama([]byte(tt.reply))
			assert.Equal(t, tt.want, res.Content)
			assert.Equal(t, tt.reply, res.Raw)
		})
	}
}

func TestOllama_PromptOnly(t *testing.T) {
	body := ollamaBody(OllamaRequest{Model: "m", Prompt: "solo"})
	assert.Equal(t, []ChatMessage{{Role: "user", Content: "solo"}}, body["messages"])
}

// =============================================================================
// LLAMA.CPP
// =============================================================================

func TestLlama_Chat(t *testing.T) {
	rec := &recorder{reply: `{"id":"l1","model":"gguf","system_fingerprint":"b6134","choices":[{"message":{"content":"local reply"}}],"timings":{"predicted_n":5}}`}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	res, err := NewLlamaAdapter(srv.Client()).Chat(context.Background(), LlamaRequest{
		Port:   serverPort(t, srv),
		Prompt: "hey",
		Params: DefaultGenerationParams(),
	})
	require.NoError(t, err)

	assert.Equal(t, "/v1/chat/completions", rec.path)
	assert.Equal(t, DefaultLlamaModel, rec.body["model"])
	assert.Equal(t, 0.8, rec.body["temperature"])
	assert.Equal(t, 0.05, rec.body["min_p"])
	assert.Equal(t, -1.0, rec.body["max_tokens"])
	assert.Equal(t, 64.0, rec.body["repeat_last_n"])

	assert.Equal(t, "local reply", res.Content)
	assert.Equal(t, "b6134", res.Meta.String("system_fingerprint"))
	assert.NotNil(t, res.Meta["timings"])
}

func TestLlama_HistoryRoles(t *testing.T) {
	rec := &recorder{reply: `{"choices":[{"message":{"content":"ok"}}]}`}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	_, err := NewLlamaAdapter(srv.Client()).Chat(context.Background(), LlamaRequest{
		Port: serverPort(t, srv),
		Messages: []ChatMessage{
			{Role: "system", Content: "ctx"},
			{Role: "user", Content: "q"},
			{Role: "assistant", Content: "a"},
		},
		Params: DefaultGenerationParams(),
	})
	require.NoError(t, err)

	msgs, ok := rec.body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 3)
	for i, role := range []string{"system", "user", "assistant"} {
		m := msgs[i].(map[string]any)
		assert.Equal(t, role, m["role"])
	}
	assert.Equal(t, "ctx", msgs[0].(map[string]any)["content"])
	assert.Equal(t, 40.0, rec.body["top_k"])
	assert.Equal(t, false, rec.body["stream"])
	_, present := rec.header["Authorization"]
	assert.False(t, present)
}

func TestLlama_LoadingNotRetried(t *testing.T) {
	rec := &recorder{status: http.StatusServiceUnavailable, reply: `{"error":{"code":503,"message":"Loading model","type":"unavailable_error"}}`}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	_, err := NewLlamaAdapter(srv.Client()).Chat(context.Background(), LlamaRequest{Port: serverPort(t, srv), Prompt: "x"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Loading model", apiErr.Message)
	assert.Equal(t, int32(1), rec.calls.Load())
}

func TestLlama_InvalidPort(t *testing.T) {
	_, err := NewLlamaAdapter(nil).Chat(context.Background(), LlamaRequest{Port: 0})
	assert.Error(t, err)
}

// =============================================================================
// SHARED
// =============================================================================

func TestRequestMismatch(t *testing.T) {
	adapters := []Adapter{
		NewOpenAIAdapter(nil),
		NewDeepSeekAdapter(nil),
		NewOllamaAdapter(nil),
		NewLlamaAdapter(nil),
	}
	for _, a := range adapters {
		_, err := a.Chat(context.Background(), wrongRequest(a.Name()))
		assert.ErrorIs(t, err, ErrRequestMismatch, a.Name())
	}
}

func wrongRequest(name string) Request {
	if name == "openai" {
		return DeepSeekRequest{}
	}
	return OpenAIRequest{}
}

func TestDeepMerge(t *testing.T) {
	dst := map[string]any{
		"model":   "a",
		"options": map[string]any{"temperature": 0.8, "top_k": 40},
		"stream":  false,
	}
	deepMerge(dst, map[string]any{
		"model":   "b",
		"options": map[string]any{"top_k": 10, "seed": 7},
		"stream":  map[string]any{"odd": true},
		"format":  "json",
	})

	assert.Equal(t, "b", dst["model"])
	assert.Equal(t, map[string]any{"temperature": 0.8, "top_k": 10, "seed": 7}, dst["options"])
	assert.Equal(t, map[string]any{"odd": true}, dst["stream"])
	assert.Equal(t, "json", dst["format"])
}

func TestAPIError(t *testing.T) {
	e := newAPIError("DeepSeek", http.StatusTooManyRequests, []byte("slow down"))
	assert.True(t, errors.Is(e, ErrRateLimited))
	assert.True(t, e.Retryable())
	assert.Equal(t, "slow down", e.Message)

	e = newAPIError("DeepSeek", http.StatusNotFound, nil)
	assert.True(t, errors.Is(e, ErrModelNotFound))
	assert.False(t, e.Retryable())
	assert.Equal(t, "Not Found", e.Message)
}
