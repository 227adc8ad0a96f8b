// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package projects

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Export writes projects to w as indented JSON or YAML.
func Export(w io.Writer, projects []model.Project, format string) error {
	if projects == nil {
		projects = []model.Project{}
	}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(projects)
	case FormatYAML, "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(projects); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported export format %q (use json or yaml)", format)
	}
}
