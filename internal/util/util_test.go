// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"
	"testing"
)

// =============================================================================
// ATOMIC WRITE TESTS
// =============================================================================

func TestAtomicWriteFile_Basic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "test.txt")

	if err := AtomicWriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}
	if err := AtomicWriteFile(path, []byte("world"), 0644); err != nil {
		t.Fatalf("AtomicWriteFile overwrite failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if string(content) != "world" {
		t.Errorf("content = %q, want %q", content, "world")
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %d entries", len(entries))
	}
}

// =============================================================================
// FORMAT TESTS
// =============================================================================

func TestFormatSize(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3435973837, "3.2 GB"},
	}
	for _, tc := range tests {
		if got := FormatSize(tc.n); got != tc.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tc.n, got, tc.want)
		}
	}
}

func TestFormatNanos(t *testing.T) {
	if got := FormatNanos(1_234_567_890); got != "1.23s" {
		t.Errorf("FormatNanos(1.23s) = %q", got)
	}
	if got := FormatNanos(45_600_000); got != "46ms" {
		t.Errorf("FormatNanos(45.6ms) = %q", got)
	}
}

func TestTruncateWidth(t *testing.T) {
	tests := []struct {
		s     string
		width int
		want  string
	}{
		{"hello", 10, "hello"},
		{"hello world", 8, "hello..."},
		{"日本語テキスト", 7, "日本..."},
		{"abc", 0, ""},
	}
	for _, tc := range tests {
		if got := TruncateWidth(tc.s, tc.width); got != tc.want {
			t.Errorf("TruncateWidth(%q, %d) = %q, want %q", tc.s, tc.width, got, tc.want)
		}
	}
}

func TestFirstLine(t *testing.T) {
	if got := FirstLine("\n  \n  first\nsecond"); got != "first" {
		t.Errorf("FirstLine() = %q", got)
	}
}
