// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Prompt is a stored user prompt. ProjectID is zero for global prompts.
type Prompt struct {
	ID        int64
	ProjectID int64
	Content   string
	CreatedAt time.Time
}

// SavePrompt stores a prompt in the global history.
func (d *DB) SavePrompt(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyPrompt
	}
	if _, err := d.db.ExecContext(ctx, "INSERT INTO prompts (content) VALUES (?)", content); err != nil {
		return fmt.Errorf("failed to save prompt: %w", err)
	}
	return nil
}

// ListPrompts returns global prompts newest first. limit <= 0 means all.
func (d *DB) ListPrompts(ctx context.Context, limit int) ([]Prompt, error) {
	query := "SELECT id, content, created_at FROM prompts ORDER BY id DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}
	defer rows.Close()

	var out []Prompt
	for rows.Next() {
		var p Prompt
		var created string
		if err := rows.Scan(&p.ID, &p.Content, &created); err != nil {
			return nil, fmt.Errorf("failed to scan prompt: %w", err)
		}
		p.CreatedAt = parseTime(created)
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveProjectPrompt stores a prompt under a project.
func (d *DB) SaveProjectPrompt(ctx context.Context, projectID int64, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyPrompt
	}
	_, err := d.db.ExecContext(ctx,
		"INSERT INTO project_prompts (project_id, content) VALUES (?, ?)", projectID, content)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "foreign key") {
			return ErrProjectNotFound
		}
		return fmt.Errorf("failed to save project prompt: %w", err)
	}
	return nil
}

// ListProjectPrompts returns a project's prompts oldest first. limit <= 0 means all.
func (d *DB) ListProjectPrompts(ctx context.Context, projectID int64, limit int) ([]Prompt, error) {
	query := "SELECT id, project_id, content, created_at FROM project_prompts WHERE project_id = ? ORDER BY id ASC"
	args := []any{projectID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list project prompts: %w", err)
	}
	defer rows.Close()
	return scanProjectPrompts(rows)
}

func scanProjectPrompts(rows *sql.Rows) ([]Prompt, error) {
	var out []Prompt
	for rows.Next() {
		var p Prompt
		var created string
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.Content, &created); err != nil {
			return nil, fmt.Errorf("failed to scan project prompt: %w", err)
		}
		p.CreatedAt = parseTime(created)
		out = append(out, p)
	}
	return out, rows.Err()
}

var timeLayouts = []string{
	"2006-01-02T15:04:05.000Z",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

func parseTime(s string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
