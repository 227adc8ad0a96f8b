// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"testing"
)

// =============================================================================
// CHAT MODE TESTS
// =============================================================================

func TestParseChatMode(t *testing.T) {
	tests := []struct {
		input   string
		want    ChatMode
		wantErr bool
	}{
		{"openai", ModeOpenAI, false},
		{"DeepSeek", ModeDeepSeek, false},
		{"llama.cpp", ModeLlama, false},
		{"local", ModeLlama, false},
		{" ollama ", ModeOllama, false},
		{"claude", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseChatMode(tc.input)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseChatMode(%q) error = %v, wantErr %v", tc.input, err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("ParseChatMode(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestChatMode_ServerKind(t *testing.T) {
	if k, ok := ModeLlama.ServerKind(); !ok || k != ServerLlamaCpp {
		t.Errorf("ModeLlama.ServerKind() = %q, %v", k, ok)
	}
	if k, ok := ModeOllama.ServerKind(); !ok || k != ServerOllama {
		t.Errorf("ModeOllama.ServerKind() = %q, %v", k, ok)
	}
	if _, ok := ModeOpenAI.ServerKind(); ok {
		t.Error("ModeOpenAI should have no server kind")
	}
	if ModeDeepSeek.IsLocal() || !ModeOllama.IsLocal() {
		t.Error("IsLocal mismatch")
	}
}

// =============================================================================
// DOWNLOAD STATUS TESTS
// =============================================================================

func TestDownloadStatus_Invariants(t *testing.T) {
	statuses := []DownloadStatus{
		IdleStatus(),
		DownloadingStatus(-5, "x"),
		DownloadingStatus(250, "x"),
		ExtractingStatus(60, "Unpacking 1/2"),
		CompletedStatus("done"),
		ErrorStatus("boom"),
		DownloadStatus{Status: PhaseIdle, Progress: 40}.Normalize(),
		DownloadStatus{Status: PhaseCompleted, Progress: 3}.Normalize(),
		DownloadStatus{Progress: 12}.Normalize(),
	}

	for i, s := range statuses {
		if !s.Valid() {
			t.Errorf("status[%d] = %+v violates invariants", i, s)
		}
	}
}

func TestDownloadStatus_Valid(t *testing.T) {
	if (DownloadStatus{Status: PhaseIdle, Progress: 1}).Valid() {
		t.Error("idle with progress 1 should be invalid")
	}
	if (DownloadStatus{Status: PhaseCompleted, Progress: 99}).Valid() {
		t.Error("completed with progress 99 should be invalid")
	}
	if (DownloadStatus{Status: "paused"}).Valid() {
		t.Error("unknown phase should be invalid")
	}
}

// =============================================================================
// LOCAL SERVER REFERENCE TESTS
// =============================================================================

func TestParseLocalServer(t *testing.T) {
	tests := []struct {
		input string
		want  LocalServerRef
	}{
		{"llama.cpp:cuda:9090", LocalServerRef{Variant: "cuda", Port: 9090}},
		{"llama.cpp:cpu_arm:8081", LocalServerRef{Variant: "cpu_arm", Port: 8081}},
		{"llama.cpp:cuda", LocalServerRef{Variant: "cpu", Port: 8080}},
		{"llamacpp:cuda:9090", LocalServerRef{Variant: "cpu", Port: 8080}},
		{"llama.cpp:cuda:99999", LocalServerRef{Variant: "cpu", Port: 8080}},
		{"", LocalServerRef{Variant: "cpu", Port: 8080}},
	}

	for _, tc := range tests {
		if got := ParseLocalServer(tc.input); got != tc.want {
			t.Errorf("ParseLocalServer(%q) = %+v, want %+v", tc.input, got, tc.want)
		}
	}
}

func TestDecodeLocalServer_PrefersMeta(t *testing.T) {
	ref := LocalServerRef{Variant: "vulkan", Port: 8181}
	p := Project{Server: "llama.cpp:cpu:8080", Meta: ref.MetaJSON()}
	if got := DecodeLocalServer(p); got != ref {
		t.Errorf("DecodeLocalServer() = %+v, want %+v", got, ref)
	}

	p.Meta = "{not json"
	if got := DecodeLocalServer(p); got != (LocalServerRef{Variant: "cpu", Port: 8080}) {
		t.Errorf("DecodeLocalServer() with bad meta = %+v", got)
	}
}

func TestDecodeLocalServer_ModelFile(t *testing.T) {
	ref := LocalServerRef{Variant: "cuda_12", Port: 8181, ModelFile: "/models/a.gguf"}
	p := Project{Server: ref.String(), Meta: ref.MetaJSON()}
	if got := DecodeLocalServer(p); got != ref {
		t.Errorf("DecodeLocalServer() = %+v, want %+v", got, ref)
	}

	p.Meta = ""
	want := LocalServerRef{Variant: "cuda_12", Port: 8181}
	if got := DecodeLocalServer(p); got != want {
		t.Errorf("DecodeLocalServer() without meta = %+v, want %+v", got, want)
	}
}

func TestLocalServerRef_String(t *testing.T) {
	ref := LocalServerRef{Variant: "hip", Port: 8083}
	if got := ref.String(); got != "llama.cpp:hip:8083" {
		t.Errorf("String() = %q", got)
	}
	if back := ParseLocalServer(ref.String()); back != ref {
		t.Errorf("round trip = %+v, want %+v", back, ref)
	}
}

func TestNewMessage(t *testing.T) {
	u := NewUserMessage("hi")
	a := NewAssistantMessage("hello", ProviderMetadata{"model": "m", "eval_count": float64(3)})
	if u.ID == "" || u.ID == a.ID {
		t.Errorf("message IDs not unique: %q %q", u.ID, a.ID)
	}
	if !u.IsUser() || a.IsUser() {
		t.Error("sender mismatch")
	}
	if a.Meta.String("model") != "m" {
		t.Errorf("Meta.String(model) = %q", a.Meta.String("model"))
	}
	if n, ok := a.Meta.Number("eval_count"); !ok || n != 3 {
		t.Errorf("Meta.Number(eval_count) = %v, %v", n, ok)
	}
}
