// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

const projectColumns = "id, name, work_mode, provider, server, model, meta, created_at"

// ListProjects returns projects newest first, optionally filtered by mode.
func (d *DB) ListProjects(ctx context.Context, workMode model.ChatMode) ([]model.Project, error) {
	query := "SELECT " + projectColumns + " FROM projects"
	var args []any
	if workMode != "" {
		query += " WHERE work_mode = ?"
		args = append(args, string(workMode))
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var out []model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetProject returns one project by id.
func (d *DB) GetProject(ctx context.Context, id int64) (model.Project, error) {
	row := d.db.QueryRowContext(ctx, "SELECT "+projectColumns+" FROM projects WHERE id = ?", id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Project{}, ErrProjectNotFound
	}
	return p, err
}

// SaveProject inserts a project and returns its id. ID and CreatedAt of p
// are ignored.
func (d *DB) SaveProject(ctx context.Context, p model.Project) (int64, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return 0, ErrEmptyProjectName
	}

	var meta any
	if p.Meta != "" {
		meta = p.Meta
	}
	res, err := d.db.ExecContext(ctx,
		"INSERT INTO projects (name, work_mode, provider, server, model, meta) VALUES (?, ?, ?, ?, ?, ?)",
		name, string(p.WorkMode), p.Provider, p.Server, p.Model, meta)
	if err != nil {
		return 0, fmt.Errorf("failed to save project: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read project id: %w", err)
	}
	return id, nil
}

// DeleteProject removes a project and, by cascade, its prompts.
func (d *DB) DeleteProject(ctx context.Context, id int64) error {
	res, err := d.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrProjectNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(r rowScanner) (model.Project, error) {
	var p model.Project
	var mode, created string
	var meta sql.NullString
	if err := r.Scan(&p.ID, &p.Name, &mode, &p.Provider, &p.Server, &p.Model, &meta, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("failed to scan project: %w", err)
	}
	p.WorkMode = model.ChatMode(mode)
	p.Meta = meta.String
	p.CreatedAt = parseTime(created)
	return p, nil
}
