// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package detect

import "strings"

// Recommendation is the suggested server build for a host.
type Recommendation struct {
	Variant string
	Reason  string
}

// RecommendVariant picks the llama.cpp/Ollama build variant for gpu on
// goos/goarch. The names match the release asset variants.
func RecommendVariant(gpu *GpuInfo, goos, goarch string) Recommendation {
	arm := goarch == "arm64"
	if gpu == nil {
		gpu = &GpuInfo{Name: "CPU Only", Type: GpuTypeCPU}
	}

	switch gpu.Type {
	case GpuTypeAppleSilicon:
		// macOS builds are universal and use Metal regardless of variant.
		return Recommendation{Variant: "cpu", Reason: gpu.Name + " uses the universal Metal build"}
	case GpuTypeNvidia:
		if !arm {
			return Recommendation{Variant: "cuda_12", Reason: gpu.Name + " supports CUDA 12"}
		}
	case GpuTypeAmd:
		if !arm {
			return Recommendation{Variant: "hip_radeon", Reason: gpu.Name + " supports ROCm/HIP"}
		}
	case GpuTypeIntel:
		if !arm && !strings.EqualFold(goos, "darwin") {
			return Recommendation{Variant: "vulkan", Reason: gpu.Name + " runs the Vulkan build"}
		}
	}

	if arm && goos == "windows" {
		return Recommendation{Variant: "cpu_arm", Reason: "no supported GPU; native arm64 CPU build"}
	}
	return Recommendation{Variant: "cpu", Reason: "no supported GPU; CPU build"}
}
