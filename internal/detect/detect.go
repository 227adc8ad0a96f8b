// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package detect

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// gpuDetectTimeout bounds a full detection run when ctx has no deadline.
const gpuDetectTimeout = 10 * time.Second

// =============================================================================
// GPU TYPE DEFINITIONS
// =============================================================================

// GpuType represents the type of GPU detected on the system.
type GpuType int

const (
	// GpuTypeCPU indicates no dedicated GPU found.
	GpuTypeCPU GpuType = iota
	// GpuTypeNvidia indicates an NVIDIA GPU (CUDA-capable).
	GpuTypeNvidia
	// GpuTypeAmd indicates an AMD GPU (ROCm/HIP-capable).
	GpuTypeAmd
	// GpuTypeAppleSilicon indicates Apple Silicon (Metal-capable).
	GpuTypeAppleSilicon
	// GpuTypeIntel indicates an Intel Arc discrete GPU.
	GpuTypeIntel
)

func (t GpuType) String() string {
	switch t {
	case GpuTypeNvidia:
		return "NVIDIA"
	case GpuTypeAmd:
		return "AMD"
	case GpuTypeAppleSilicon:
		return "Apple Silicon"
	case GpuTypeIntel:
		return "Intel Arc"
	case GpuTypeCPU:
		return "CPU"
	default:
		return "Unknown"
	}
}

// GpuInfo contains information about a detected GPU.
type GpuInfo struct {
	Name   string
	VramGB uint32
	Driver string
	Type   GpuType
}

// String returns a formatted string representation of the GPU info.
func (g *GpuInfo) String() string {
	if g.Type == GpuTypeCPU {
		return g.Name
	}
	s := fmt.Sprintf("%s (%dGB VRAM)", g.Name, g.VramGB)
	if g.Driver != "" {
		s += fmt.Sprintf(" [Driver: %s]", g.Driver)
	}
	return s
}

// =============================================================================
// PROBING
// =============================================================================

// Runner executes a detection command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Detector runs the detection commands for one platform.
type Detector struct {
	run  Runner
	goos string
}

// NewDetector returns a detector for goos. A nil run uses os/exec.
func NewDetector(run Runner, goos string) *Detector {
	if run == nil {
		run = execRunner
	}
	return &Detector{run: run, goos: goos}
}

// Detect checks NVIDIA, AMD, Apple Silicon and Intel Arc in that order
// and falls back to CPU. It never fails; a check that errors is skipped.
func (p *Detector) Detect(ctx context.Context) *GpuInfo {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, gpuDetectTimeout)
		defer cancel()
	}
	for _, check := range []func(context.Context) *GpuInfo{p.nvidia, p.amd, p.apple, p.intelArc} {
		if info := check(ctx); info != nil {
			return info
		}
		if ctx.Err() != nil {
			break
		}
	}
	return &GpuInfo{Name: "CPU Only", Type: GpuTypeCPU}
}

func (p *Detector) nvidia(ctx context.Context) *GpuInfo {
	paths := []string{"nvidia-smi"}
	if p.goos == "windows" {
		paths = append(paths,
			`C:\Windows\System32\nvidia-smi.exe`,
			`C:\Program Files\NVIDIA Corporation\NVSMI\nvidia-smi.exe`)
	}
	for _, path := range paths {
		out, err := p.run(ctx, path, "--query-gpu=name,memory.total,driver_version", "--format=csv,noheader,nounits")
		if err == nil && len(out) > 0 {
			return parseNvidiaSmi(string(out))
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	return nil
}

// parseNvidiaSmi reads the first "name, MiB, driver" CSV row.
func parseNvidiaSmi(out string) *GpuInfo {
	line := strings.TrimSpace(strings.SplitN(strings.TrimSpace(out), "\n", 2)[0])
	parts := strings.Split(line, ", ")
	if len(parts) < 3 {
		return nil
	}
	vramMB, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return nil
	}
	return &GpuInfo{
		Name:   "NVIDIA " + strings.TrimSpace(parts[0]),
		VramGB: uint32(vramMB/1024.0 + 0.5),
		Driver: strings.TrimSpace(parts[2]),
		Type:   GpuTypeNvidia,
	}
}

func (p *Detector) amd(ctx context.Context) *GpuInfo {
	if p.goos == "windows" {
		out, err := p.run(ctx, "powershell", "-NoProfile", "-Command",
			"Get-CimInstance Win32_VideoController | Select-Object -ExpandProperty Name")
		if err != nil {
			return nil
		}
		for _, line := range strings.Split(string(out), "\n") {
			name := strings.TrimSpace(line)
			lower := strings.ToLower(name)
			if strings.Contains(lower, "radeon") || strings.Contains(lower, "amd") {
				return &GpuInfo{Name: name, VramGB: inferAmdVram(name), Type: GpuTypeAmd}
			}
		}
		return nil
	}
	if p.goos != "linux" {
		return nil
	}
	out, err := p.run(ctx, "rocm-smi", "--showproductname", "--showmeminfo", "vram")
	if err != nil {
		return nil
	}
	return parseRocmSmi(string(out))
}

// parseRocmSmi extracts the card series and total VRAM from rocm-smi.
func parseRocmSmi(out string) *GpuInfo {
	info := &GpuInfo{Name: "AMD GPU", Type: GpuTypeAmd}
	found := false
	for _, line := range strings.Split(out, "\n") {
		idx := strings.LastIndex(line, ":")
		if idx < 0 {
			continue
		}
		key, val := strings.ToLower(line[:idx]), strings.TrimSpace(line[idx+1:])
		switch {
		case strings.Contains(key, "card series") || strings.Contains(key, "card model"):
			if val != "" && info.Name == "AMD GPU" {
				info.Name = "AMD " + val
				found = true
			}
		case strings.Contains(key, "vram total memory"):
			if b, err := strconv.ParseUint(val, 10, 64); err == nil {
				info.VramGB = uint32(b / (1 << 30))
				found = true
			}
		}
	}
	if !found {
		return nil
	}
	if info.VramGB == 0 {
		info.VramGB = inferAmdVram(info.Name)
	}
	return info
}

// inferAmdVram guesses VRAM from well-known Radeon model numbers.
func inferAmdVram(name string) uint32 {
	lower := strings.ToLower(name)
	for _, m := range []struct {
		model string
		gb    uint32
	}{
		{"7900 xtx", 24}, {"7900 xt", 20}, {"7900 gre", 16}, {"7800", 16},
		{"7700", 12}, {"7600", 8}, {"6950", 16}, {"6900", 16}, {"6800", 16},
		{"6750", 12}, {"6700", 12}, {"6650", 8}, {"6600", 8},
	} {
		if strings.Contains(lower, m.model) {
			return m.gb
		}
	}
	return 8
}

func (p *Detector) apple(ctx context.Context) *GpuInfo {
	if p.goos != "darwin" {
		return nil
	}
	out, err := p.run(ctx, "system_profiler", "SPDisplaysDataType", "-json")
	if err != nil || !strings.Contains(string(out), "Apple") {
		return nil
	}
	info := &GpuInfo{Name: appleChipName(string(out)), VramGB: 8, Type: GpuTypeAppleSilicon}
	// Unified memory is shared; report all of it.
	if mem, err := p.run(ctx, "sysctl", "-n", "hw.memsize"); err == nil {
		if b, err := strconv.ParseUint(strings.TrimSpace(string(mem)), 10, 64); err == nil {
			info.VramGB = uint32(b / (1 << 30))
		}
	}
	return info
}

func appleChipName(profile string) string {
	for _, gen := range []string{"M4", "M3", "M2", "M1"} {
		for _, tier := range []string{" Ultra", " Max", " Pro", ""} {
			if strings.Contains(profile, gen+tier) {
				return "Apple " + gen + tier
			}
		}
	}
	return "Apple Silicon"
}

func (p *Detector) intelArc(ctx context.Context) *GpuInfo {
	out, err := p.run(ctx, "intel_gpu_top", "-L")
	if err != nil {
		return nil
	}
	lower := strings.ToLower(string(out))
	if !strings.Contains(lower, "arc") {
		return nil
	}
	info := &GpuInfo{Name: "Intel Arc", VramGB: 8, Type: GpuTypeIntel}
	for _, m := range []struct {
		model string
		gb    uint32
	}{{"a770", 16}, {"a750", 8}, {"a580", 8}, {"a380", 6}, {"a310", 4}} {
		if strings.Contains(lower, m.model) {
			info.Name = "Intel Arc " + strings.ToUpper(m.model)
			info.VramGB = m.gb
			break
		}
	}
	return info
}

// =============================================================================
// GPU CACHE
// =============================================================================

var (
	gpuCache         *GpuInfo
	gpuCacheTime     time.Time
	gpuCacheMu       sync.Mutex
	gpuCacheDuration = 5 * time.Minute
)

// DetectGPUCached runs detection on the current host at most once every five minutes.
func DetectGPUCached(ctx context.Context) *GpuInfo {
	gpuCacheMu.Lock()
	defer gpuCacheMu.Unlock()
	if gpuCache != nil && time.Since(gpuCacheTime) < gpuCacheDuration {
		return gpuCache
	}
	gpuCache = NewDetector(nil, runtime.GOOS).Detect(ctx)
	gpuCacheTime = time.Now()
	return gpuCache
}

// ClearGPUCache forces the next DetectGPUCached call to detect again.
func ClearGPUCache() {
	gpuCacheMu.Lock()
	gpuCache = nil
	gpuCacheMu.Unlock()
}
