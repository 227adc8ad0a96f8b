// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// =============================================================================
// DOWNLOAD STATUS
// =============================================================================

// DownloadPhase is the lifecycle phase reported by a DownloadStatus.
type DownloadPhase string

const (
	PhaseIdle        DownloadPhase = "idle"
	PhaseDownloading DownloadPhase = "downloading"
	PhaseExtracting  DownloadPhase = "extracting"
	PhaseCompleted   DownloadPhase = "completed"
	PhaseError       DownloadPhase = "error"
)

// DownloadStatus is the most recent phase of either a binary install or a
// server start. The two never overlap so one value serves both.
//
// Invariants: Status idle implies Progress 0, Status completed implies
// Progress 100. Use the constructors or Normalize to keep them.
type DownloadStatus struct {
	Progress int           `json:"progress"`
	Status   DownloadPhase `json:"status"`
	Message  string        `json:"message"`
}

// IdleStatus returns the reset status.
func IdleStatus() DownloadStatus {
	return DownloadStatus{Progress: 0, Status: PhaseIdle}
}

// DownloadingStatus returns a downloading status with clamped progress.
func DownloadingStatus(progress int, message string) DownloadStatus {
	return DownloadStatus{Progress: clampProgress(progress), Status: PhaseDownloading, Message: message}
}

// ExtractingStatus returns an extracting status with clamped progress.
func ExtractingStatus(progress int, message string) DownloadStatus {
	return DownloadStatus{Progress: clampProgress(progress), Status: PhaseExtracting, Message: message}
}

// CompletedStatus returns a completed status.
func CompletedStatus(message string) DownloadStatus {
	return DownloadStatus{Progress: 100, Status: PhaseCompleted, Message: message}
}

// ErrorStatus returns an error status.
func ErrorStatus(message string) DownloadStatus {
	return DownloadStatus{Progress: 0, Status: PhaseError, Message: message}
}

// Normalize returns a copy that satisfies the status invariants.
func (s DownloadStatus) Normalize() DownloadStatus {
	switch s.Status {
	case PhaseIdle, "":
		s.Status = PhaseIdle
		s.Progress = 0
	case PhaseCompleted:
		s.Progress = 100
	default:
		s.Progress = clampProgress(s.Progress)
	}
	return s
}

// Valid reports whether the status satisfies its invariants.
func (s DownloadStatus) Valid() bool {
	if s.Progress < 0 || s.Progress > 100 {
		return false
	}
	switch s.Status {
	case PhaseIdle:
		return s.Progress == 0
	case PhaseCompleted:
		return s.Progress == 100
	case PhaseDownloading, PhaseExtracting, PhaseError:
		return true
	default:
		return false
	}
}

// IsBusy reports whether a download or start is in progress.
func (s DownloadStatus) IsBusy() bool {
	return s.Status == PhaseDownloading || s.Status == PhaseExtracting
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
