// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/contextscan"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/provider"
	"github.com/jeranaias/rigrun-chat/internal/router"
	"github.com/jeranaias/rigrun-chat/internal/state"
)

// HistoryLimit is the number of log entries sent as history.
const HistoryLimit = 20

// ErrorPrefix marks an assistant message that reports a failed turn.
const ErrorPrefix = "Error: "

// =============================================================================
// COLLABORATORS
// =============================================================================

// Router resolves the adapter for a mode.
type Router interface {
	Route(mode model.ChatMode, ready router.Readiness) (provider.Adapter, bool)
}

// ContextSource scans the configured context folder.
type ContextSource interface {
	ScanContextFolder(ctx context.Context, path string, fileSizeLimit, totalSizeLimit int64, maxFiles int) (string, error)
}

// PromptStore persists sent prompts.
type PromptStore interface {
	SavePrompt(ctx context.Context, content string) error
	SaveProjectPrompt(ctx context.Context, projectID int64, content string) error
}

// =============================================================================
// SESSION
// =============================================================================

// Session sends chat turns against the shared store.
type Session struct {
	store   *state.Store
	router  Router
	scans   ContextSource
	prompts PromptStore
}

// New creates a session. scans and prompts may be nil.
func New(store *state.Store, r Router, scans ContextSource, prompts PromptStore) *Session {
	return &Session{store: store, router: r, scans: scans, prompts: prompts}
}

// SendMessage runs one turn. It returns false without touching the log
// when text is blank or the mode is local and its server is not ready.
// Otherwise exactly one user message and one assistant message (the reply
// or an "Error: ..." message) are appended and it returns true.
func (s *Session) SendMessage(ctx context.Context, text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	snap := s.store.Get()
	mode := snap.Settings.Mode
	if mode.IsLocal() && !snap.IsServerReady {
		return false
	}

	s.store.AppendMessage(model.NewUserMessage(text))

	folderContext := s.folderContext(ctx, snap.Settings.ContextFolder)
	s.savePrompt(ctx, snap.ActiveProjectID, text)

	// Re-read so the history includes the message just appended.
	snap = s.store.Get()
	req := BuildRequest(snap.Settings, snap.Messages, text, folderContext)

	result, err := s.dispatch(ctx, mode, snap.IsServerReady, req)
	if err != nil {
		log.Printf("session: %s turn failed: %v", mode, err)
		s.store.AppendMessage(model.NewAssistantMessage(ErrorPrefix+err.Error(), nil))
		return true
	}
	s.store.AppendMessage(model.NewAssistantMessage(result.Content, result.Meta))
	return true
}

func (s *Session) dispatch(ctx context.Context, mode model.ChatMode, ready bool, req provider.Request) (*provider.Result, error) {
	adapter, ok := s.router.Route(mode, router.Readiness{IsServerReady: ready})
	if !ok {
		if mode.IsLocal() {
			return nil, errors.New("local server is not running")
		}
		return nil, errors.New("no provider for mode " + string(mode))
	}
	return adapter.Chat(ctx, req)
}

// folderContext is best-effort: a failed scan means no context.
func (s *Session) folderContext(ctx context.Context, folder string) string {
	folder = strings.TrimSpace(folder)
	if folder == "" || s.scans == nil {
		return ""
	}
	out, err := s.scans.ScanContextFolder(ctx, folder,
		contextscan.DefaultFileSizeLimit, contextscan.DefaultTotalSizeLimit, contextscan.DefaultMaxFiles)
	if err != nil {
		log.Printf("session: scan_context_folder failed: %v", err)
		return ""
	}
	return out
}

// savePrompt is best-effort and prefers the active project.
func (s *Session) savePrompt(ctx context.Context, projectID int64, text string) {
	if s.prompts == nil {
		return
	}
	var err error
	if projectID != 0 {
		err = s.prompts.SaveProjectPrompt(ctx, projectID, text)
	} else {
		err = s.prompts.SavePrompt(ctx, text)
	}
	if err != nil {
		log.Printf("session: saving prompt failed: %v", err)
	}
}

// =============================================================================
// REQUEST BUILDING
// =============================================================================

// BuildRequest builds the request variant for settings.Mode. Local modes
// get the last HistoryLimit messages with folderContext as a leading
// system message; hosted modes get text prefixed by folderContext.
func BuildRequest(settings config.Settings, messages []model.Message, text, folderContext string) provider.Request {
	prompt := text
	if folderContext != "" {
		prompt = folderContext + "\n\n" + text
	}
	params := provider.GenerationParams{
		Temperature: settings.Temperature,
		TopK:        settings.TopK,
		TopP:        settings.TopP,
		MinP:        settings.MinP,
		MaxTokens:   settings.MaxTokens,
		RepeatLastN: settings.RepeatLastN,
	}

	switch settings.Mode {
	case model.ModeOpenAI:
		return provider.OpenAIRequest{BaseURL: settings.APIBase, APIKey: settings.APIKey, Model: settings.APIModel, Prompt: prompt}
	case model.ModeDeepSeek:
		return provider.DeepSeekRequest{URL: settings.DeepSeekURL, APIKey: settings.APIKey, Model: settings.DeepSeekModel, Prompt: prompt}
	case model.ModeOllama:
		return provider.OllamaRequest{
			BaseURL:  settings.OllamaBase,
			Model:    settings.OllamaModel,
			Prompt:   text,
			Messages: History(messages, folderContext),
			Params:   params,
			Advanced: settings.AdvancedOllamaParams(),
		}
	default:
		port := settings.ServerPort
		if port <= 0 {
			port = config.DefaultServerPort
		}
		return provider.LlamaRequest{
			Port:     port,
			Prompt:   text,
			Messages: History(messages, folderContext),
			Params:   params,
		}
	}
}

// History maps the last HistoryLimit messages, oldest first, to role
// tagged entries, preceded by folderContext as a system message.
func History(messages []model.Message, folderContext string) []provider.ChatMessage {
	if len(messages) > HistoryLimit {
		messages = messages[len(messages)-HistoryLimit:]
	}
	out := make([]provider.ChatMessage, 0, len(messages)+1)
	if folderContext != "" {
		out = append(out, provider.ChatMessage{Role: "system", Content: folderContext})
	}
	for _, m := range messages {
		out = append(out, provider.ChatMessage{Role: m.Sender.Role(), Content: m.Text})
	}
	return out
}
