// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

// =============================================================================
// ERRORS
// =============================================================================

// StorageError represents a storage-related error.
// It implements the error interface and can be compared using errors.Is.
type StorageError struct {
	Message string
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing storage errors.
func (e *StorageError) Is(target error) bool {
	t, ok := target.(*StorageError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

var (
	// ErrSettingsNotFound is returned before settings were ever saved.
	ErrSettingsNotFound = &StorageError{Message: "settings not found"}
	// ErrProjectNotFound is returned when a project doesn't exist.
	ErrProjectNotFound = &StorageError{Message: "project not found"}
	// ErrEmptyProjectName is returned when saving a project without a name.
	ErrEmptyProjectName = &StorageError{Message: "project name is empty"}
	// ErrEmptyPrompt is returned when saving an empty prompt.
	ErrEmptyPrompt = &StorageError{Message: "prompt is empty"}
)
