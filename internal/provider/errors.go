// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrRequestMismatch is returned when an adapter receives a request
	// variant for another mode.
	ErrRequestMismatch = errors.New("request does not match adapter")

	// ErrAuthFailed indicates the API key was rejected.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrModelNotFound indicates the requested model does not exist.
	ErrModelNotFound = errors.New("model not found")

	// ErrResponseTooLarge is returned when a body exceeds MaxResponseSize.
	ErrResponseTooLarge = errors.New("response exceeded maximum size")
)

// APIError is a non-2xx reply from a backend.
type APIError struct {
	Provider string
	Status   int
	Code     string
	Message  string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s error [%s] (HTTP %d): %s", e.Provider, e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s error (HTTP %d): %s", e.Provider, e.Status, e.Message)
}

// Is maps well-known statuses onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrAuthFailed:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	case ErrRateLimited:
		return e.Status == http.StatusTooManyRequests
	case ErrModelNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// Retryable reports whether the status is worth another attempt.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || (e.Status >= 500 && e.Status < 600)
}

// apiErrorResponse is the OpenAI-style error envelope.
type apiErrorResponse struct {
	Error struct {
		Message string          `json:"message"`
		Code    json.RawMessage `json:"code"`
		Type    string          `json:"type"`
	} `json:"error"`
}

// newAPIError decodes an error envelope, falling back to the body text.
func newAPIError(providerName string, status int, body []byte) *APIError {
	e := &APIError{Provider: providerName, Status: status}
	var env apiErrorResponse
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		e.Message = env.Error.Message
		e.Code = strings.Trim(string(env.Error.Code), `"`)
		if e.Code == "" || e.Code == "null" {
			e.Code = env.Error.Type
		}
		return e
	}
	e.Message = strings.TrimSpace(string(body))
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}
