// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package contextscan turns the text files of a folder into one prompt
// context block, with an fsnotify-backed cache.
package contextscan

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

// Default limits.
const (
	DefaultFileSizeLimit  = 256 * 1024
	DefaultTotalSizeLimit = 1024 * 1024
	DefaultMaxFiles       = 200
)

// Header starts every non-empty scan result.
const Header = "### Context from folder\n\n"

// Options bounds a scan. Zero fields take the defaults.
type Options struct {
	FileSizeLimit  int64
	TotalSizeLimit int64
	MaxFiles       int
}

func (o Options) withDefaults() Options {
	if o.FileSizeLimit <= 0 {
		o.FileSizeLimit = DefaultFileSizeLimit
	}
	if o.TotalSizeLimit <= 0 {
		o.TotalSizeLimit = DefaultTotalSizeLimit
	}
	if o.MaxFiles <= 0 {
		o.MaxFiles = DefaultMaxFiles
	}
	return o
}

var skipDirs = map[string]bool{
	"node_modules": true, "dist": true, "build": true, "out": true,
	"target": true, ".git": true, ".next": true, ".turbo": true,
	"vendor": true, ".idea": true, ".vscode": true,
}

var textExts = map[string]bool{}

func init() {
	for _, ext := range strings.Fields(`txt md markdown json jsonc yml yaml toml ini cfg conf
		js ts tsx jsx mjs cjs c cc cpp h hpp hh cs java kt kts go rs py rb php swift
		sql html xml svg css scss less sh bash bat ps1 gradle properties gitignore
		gitattributes env dockerfile makefile cmake`) {
		textExts[ext] = true
	}
}

// IsSkipDir reports whether a directory name is never scanned.
func IsSkipDir(name string) bool {
	return skipDirs[name]
}

// isTextFile accepts allowlisted extensions and files with none.
func isTextFile(name string) bool {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	if ext == "" {
		return true
	}
	return textExts[strings.ToLower(ext)]
}

// Scan reads the text files under root in sorted order and formats them
// as fenced blocks. A missing root or a folder with no usable files gives
// an empty string.
func Scan(root string, opts Options) (string, error) {
	opts = opts.withDefaults()

	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return "", nil
	}

	files, err := listFiles(root)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	var total int64
	used := 0
	for _, path := range files {
		if used >= opts.MaxFiles {
			break
		}
		fi, err := os.Stat(path)
		if err != nil || fi.Size() > opts.FileSizeLimit {
			continue
		}
		if total+fi.Size() > opts.TotalSizeLimit {
			break
		}
		data, err := os.ReadFile(path)
		if err != nil || !utf8.Valid(data) {
			continue
		}

		total += int64(len(data))
		used++

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
		if ext == "" {
			ext = "text"
		}

		fmt.Fprintf(&b, "[%s]\n```%s\n", filepath.ToSlash(rel), ext)
		b.Write(data)
		if len(data) == 0 || data[len(data)-1] != '\n' {
			b.WriteByte('\n')
		}
		b.WriteString("```\n\n")
	}

	if used == 0 {
		return "", nil
	}
	return Header + b.String(), nil
}

// listFiles returns the candidate files under root, sorted.
func listFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped.
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && IsSkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && isTextFile(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
