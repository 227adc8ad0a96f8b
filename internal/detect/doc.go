// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package detect finds the host GPU and recommends a local server build.
//
// # Supported GPU Types
//
//   - NVIDIA (via nvidia-smi)
//   - AMD (via rocm-smi on Linux, the video controller list on Windows)
//   - Apple Silicon (via system_profiler on macOS)
//   - Intel Arc (via intel_gpu_top)
//
// # Usage
//
//	gpu := detect.DetectGPUCached(ctx)
//	rec := detect.RecommendVariant(gpu, runtime.GOOS, runtime.GOARCH)
//	fmt.Println(rec.Variant, rec.Reason)
package detect
