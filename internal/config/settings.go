// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// SETTINGS DEFAULTS
// =============================================================================

const (
	DefaultAPIBase       = "https://api.openai.com/v1"
	DefaultAPIModel      = "gpt-4o-mini"
	DefaultDeepSeekURL   = "https://api.deepseek.com/chat/completions"
	DefaultDeepSeekModel = "deepseek-chat"
	DefaultOllamaBase    = "http://127.0.0.1:11434"
	DefaultOllamaModel   = "llama3"
	DefaultModelRepo     = "bartowski/Llama-3.2-3B-Instruct-GGUF:Q8_0"
	DefaultServerPort    = 8080
	DefaultServerVariant = "cpu"
)

// =============================================================================
// SETTINGS
// =============================================================================

// Settings holds every user-editable provider and generation setting.
type Settings struct {
	Mode model.ChatMode `toml:"mode" json:"mode"`

	// Hosted providers
	APIKey        string `toml:"api_key" json:"api_key"`
	APIBase       string `toml:"api_base" json:"api_base"`
	APIModel      string `toml:"api_model" json:"api_model"`
	DeepSeekURL   string `toml:"deepseek_url" json:"deepseek_url"`
	DeepSeekModel string `toml:"deepseek_model" json:"deepseek_model"`

	// Ollama
	OllamaBase       string `toml:"ollama_base" json:"ollama_base"`
	OllamaModel      string `toml:"ollama_model" json:"ollama_model"`
	OllamaParamsJSON string `toml:"ollama_params_json" json:"ollama_params_json"`

	// llama.cpp
	ModelRepo     string `toml:"model_repo" json:"model_repo"`
	ModelFile     string `toml:"model_file" json:"model_file"`
	ServerPort    int    `toml:"server_port" json:"server_port"`
	ServerVariant string `toml:"server_variant" json:"server_variant"`
	ServerOS      string `toml:"server_os" json:"server_os"`

	// Generation
	Temperature float64 `toml:"temperature" json:"temperature"`
	TopK        int     `toml:"top_k" json:"top_k"`
	TopP        float64 `toml:"top_p" json:"top_p"`
	MinP        float64 `toml:"min_p" json:"min_p"`
	MaxTokens   int     `toml:"max_tokens" json:"max_tokens"`
	RepeatLastN int     `toml:"repeat_last_n" json:"repeat_last_n"`

	// Input handling
	PasteToFileLength int    `toml:"paste_to_file_length" json:"paste_to_file_length"`
	ParsePDFAsImage   bool   `toml:"parse_pdf_as_image" json:"parse_pdf_as_image"`
	ContextFolder     string `toml:"context_folder" json:"context_folder"`
	Theme             string `toml:"theme" json:"theme"`
}

// DefaultSettings returns the settings used on first run.
func DefaultSettings() Settings {
	return Settings{
		Mode:              model.ModeDeepSeek,
		APIBase:           DefaultAPIBase,
		APIModel:          DefaultAPIModel,
		DeepSeekURL:       DefaultDeepSeekURL,
		DeepSeekModel:     DefaultDeepSeekModel,
		OllamaBase:        DefaultOllamaBase,
		OllamaModel:       DefaultOllamaModel,
		ModelRepo:         DefaultModelRepo,
		ServerPort:        DefaultServerPort,
		ServerVariant:     DefaultServerVariant,
		Temperature:       0.8,
		TopK:              40,
		TopP:              0.95,
		MinP:              0.05,
		MaxTokens:         -1,
		RepeatLastN:       64,
		PasteToFileLength: 2500,
		Theme:             "light",
	}
}

// FillDefaults replaces empty fields with defaults. Generation parameters
// are left alone because zero is a legal value for several of them. An
// empty model_repo stays empty; the llama.cpp start falls back to the
// default repo and reports it.
func (s *Settings) FillDefaults() {
	d := DefaultSettings()
	if s.Mode == "" {
		s.Mode = d.Mode
	}
	if s.APIBase == "" {
		s.APIBase = d.APIBase
	}
	if s.APIModel == "" {
		s.APIModel = d.APIModel
	}
	if s.DeepSeekURL == "" {
		s.DeepSeekURL = d.DeepSeekURL
	}
	if s.DeepSeekModel == "" {
		s.DeepSeekModel = d.DeepSeekModel
	}
	if s.OllamaBase == "" {
		s.OllamaBase = d.OllamaBase
	}
	if s.OllamaModel == "" {
		s.OllamaModel = d.OllamaModel
	}
	if s.ServerPort == 0 {
		s.ServerPort = d.ServerPort
	}
	if s.ServerVariant == "" {
		s.ServerVariant = d.ServerVariant
	}
	if s.PasteToFileLength == 0 {
		s.PasteToFileLength = d.PasteToFileLength
	}
	if s.Theme == "" {
		s.Theme = d.Theme
	}
}

// AdvancedOllamaParams parses OllamaParamsJSON. Empty or invalid JSON yields nil.
func (s Settings) AdvancedOllamaParams() map[string]any {
	raw := strings.TrimSpace(s.OllamaParamsJSON)
	if raw == "" {
		return nil
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil
	}
	return params
}

// LocalServer returns the llama.cpp server reference of the settings.
func (s Settings) LocalServer() model.LocalServerRef {
	return model.LocalServerRef{
		Variant:   s.ServerVariant,
		Port:      s.ServerPort,
		ModelFile: strings.TrimSpace(s.ModelFile),
	}
}

// =============================================================================
// MODEL SOURCE
// =============================================================================

// ModelSource describes where a model reference points.
type ModelSource string

const (
	SourceHuggingFace ModelSource = "huggingface"
	SourceGitHub      ModelSource = "github"
	SourceGitLab      ModelSource = "gitlab"
	SourceDirect      ModelSource = "direct"
)

// DetectModelSource classifies a model URL or repository reference.
func DetectModelSource(ref string) ModelSource {
	switch {
	case strings.Contains(ref, "huggingface.co"):
		return SourceHuggingFace
	case strings.Contains(ref, "github.com"):
		return SourceGitHub
	case strings.Contains(ref, "gitlab.com"):
		return SourceGitLab
	default:
		return SourceDirect
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the settings and returns ValidateErrors on failure.
func (s Settings) Validate() error {
	var errs ValidateErrors

	if _, err := model.ParseChatMode(string(s.Mode)); err != nil {
		errs = append(errs, ValidationError{Field: "mode", Message: err.Error()})
	}
	for field, raw := range map[string]string{
		"api_base":     s.APIBase,
		"deepseek_url": s.DeepSeekURL,
		"ollama_base":  s.OllamaBase,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("invalid URL %q", raw)})
		}
	}
	if s.ServerPort < 1 || s.ServerPort > 65535 {
		errs = append(errs, ValidationError{Field: "server_port", Message: fmt.Sprintf("must be 1-65535, got %d", s.ServerPort)})
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		errs = append(errs, ValidationError{Field: "temperature", Message: fmt.Sprintf("must be 0-2, got %g", s.Temperature)})
	}
	if s.TopP < 0 || s.TopP > 1 {
		errs = append(errs, ValidationError{Field: "top_p", Message: fmt.Sprintf("must be 0-1, got %g", s.TopP)})
	}
	if s.MinP < 0 || s.MinP > 1 {
		errs = append(errs, ValidationError{Field: "min_p", Message: fmt.Sprintf("must be 0-1, got %g", s.MinP)})
	}
	if s.TopK < 0 {
		errs = append(errs, ValidationError{Field: "top_k", Message: "must not be negative"})
	}
	if s.MaxTokens < -1 {
		errs = append(errs, ValidationError{Field: "max_tokens", Message: "must be -1 (unlimited) or positive"})
	}
	if raw := strings.TrimSpace(s.OllamaParamsJSON); raw != "" {
		var v map[string]any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			errs = append(errs, ValidationError{Field: "ollama_params_json", Message: "must be a JSON object"})
		}
	}

	if len(errs) > 0 {
		sort.Slice(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
		return errs
	}
	return nil
}

// =============================================================================
// GET/SET BY KEY
// =============================================================================

// SettingsKeys returns every settings key in declaration order.
func SettingsKeys() []string {
	t := reflect.TypeOf(Settings{})
	keys := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		keys = append(keys, tagName(t.Field(i)))
	}
	return keys
}

// Get returns the value of a setting by its snake_case key.
func (s *Settings) Get(key string) (interface{}, error) {
	field, err := s.field(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set assigns a setting from its string form, converting to the field type.
func (s *Settings) Set(key, value string) error {
	field, err := s.field(key)
	if err != nil {
		return err
	}

	switch field.Kind() {
	case reflect.String:
		if key == "mode" {
			mode, err := model.ParseChatMode(value)
			if err != nil {
				return err
			}
			value = string(mode)
		}
		field.SetString(value)
	case reflect.Int:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %w", key, err)
		}
		field.SetInt(int64(n))
	case reflect.Float64:
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return fmt.Errorf("invalid float value for %s: %w", key, err)
		}
		field.SetFloat(f)
	case reflect.Bool:
		lower := strings.ToLower(strings.TrimSpace(value))
		field.SetBool(lower == "1" || lower == "true" || lower == "yes" || lower == "on")
	default:
		return fmt.Errorf("cannot set field: %s", key)
	}
	return nil
}

func (s *Settings) field(key string) (reflect.Value, error) {
	key = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), "-", "_")
	v := reflect.ValueOf(s).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if tagName(t.Field(i)) == key {
			return v.Field(i), nil
		}
	}
	return reflect.Value{}, fmt.Errorf("unknown setting: %s", key)
}

func tagName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if idx := strings.Index(tag, ","); idx >= 0 {
		tag = tag[:idx]
	}
	return tag
}
