// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package host

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/jeranaias/rigrun-chat/internal/contextscan"
)

// ScanContextFolder returns the context block for path. Zero limits take
// the contextscan defaults. Results are cached until the folder changes.
func (h *Host) ScanContextFolder(ctx context.Context, path string, fileSizeLimit, totalSizeLimit int64, maxFiles int) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return h.scans.Scan(path, contextscan.Options{
		FileSizeLimit:  fileSizeLimit,
		TotalSizeLimit: totalSizeLimit,
		MaxFiles:       maxFiles,
	})
}

// SystemUsage is a CPU and memory snapshot. GPU counters are not
// available portably and are left out.
type SystemUsage struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemUsed    uint64  `json:"mem_used"`
	MemTotal   uint64  `json:"mem_total"`
}

// usageSample is the CPU measurement window.
const usageSample = 200 * time.Millisecond

// SystemUsage samples CPU load and memory usage.
func (h *Host) SystemUsage(ctx context.Context) (SystemUsage, error) {
	var u SystemUsage

	pct, err := cpu.PercentWithContext(ctx, usageSample, false)
	if err != nil {
		return u, fmt.Errorf("cpu usage: %w", err)
	}
	if len(pct) > 0 {
		u.CPUPercent = pct[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return u, fmt.Errorf("memory usage: %w", err)
	}
	u.MemUsed = vm.Used
	u.MemTotal = vm.Total
	return u, nil
}
