// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package detect

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner answers detection commands by executable name.
func fakeRunner(outputs map[string]string) Runner {
	return func(_ context.Context, name string, _ ...string) ([]byte, error) {
		if out, ok := outputs[name]; ok {
			return []byte(out), nil
		}
		return nil, errors.New("executable file not found")
	}
}

func TestDetect_Nvidia(t *testing.T) {
	p := NewDetector(fakeRunner(map[string]string{
		"nvidia-smi": "GeForce RTX 4090, 24564, 550.54\n",
	}), "linux")
	info := p.Detect(context.Background())
	require.NotNil(t, info)
	assert.Equal(t, GpuTypeNvidia, info.Type)
	assert.Equal(t, "NVIDIA GeForce RTX 4090", info.Name)
	assert.Equal(t, uint32(24), info.VramGB)
	assert.Equal(t, "550.54", info.Driver)
}

func TestDetect_AmdLinux(t *testing.T) {
	out := strings.Join([]string{
		"GPU[0]		: Card Series: 		Radeon RX 7900 XTX",
		"GPU[0]		: VRAM Total Memory (B): 25753026560",
	}, "\n")
	info := NewDetector(fakeRunner(map[string]string{"rocm-smi": out}), "linux").Detect(context.Background())
	assert.Equal(t, GpuTypeAmd, info.Type)
	assert.Equal(t, "AMD Radeon RX 7900 XTX", info.Name)
	assert.Equal(t, uint32(23), info.VramGB)
}

func TestDetect_AmdWindows(t *testing.T) {
	info := NewDetector(fakeRunner(map[string]string{
		"powershell": "Microsoft Basic Display Adapter\r\nAMD Radeon RX 6700 XT\r\n",
	}), "windows").Detect(context.Background())
	assert.Equal(t, GpuTypeAmd, info.Type)
	assert.Equal(t, "AMD Radeon RX 6700 XT", info.Name)
	assert.Equal(t, uint32(12), info.VramGB)
}

func TestDetect_AppleSilicon(t *testing.T) {
	info := NewDetector(fakeRunner(map[string]string{
		"system_profiler": `{"SPDisplaysDataType":[{"sppci_model":"Apple M2 Pro"}]}`,
		"sysctl":          "34359738368\n",
	}), "darwin").Detect(context.Background())
	assert.Equal(t, GpuTypeAppleSilicon, info.Type)
	assert.Equal(t, "Apple M2 Pro", info.Name)
	assert.Equal(t, uint32(32), info.VramGB)
}

func TestDetect_IntelArc(t *testing.T) {
	info := NewDetector(fakeRunner(map[string]string{
		"intel_gpu_top": "card0  Intel Arc A770 Graphics",
	}), "linux").Detect(context.Background())
	assert.Equal(t, GpuTypeIntel, info.Type)
	assert.Equal(t, "Intel Arc A770", info.Name)
	assert.Equal(t, uint32(16), info.VramGB)
}

func TestDetect_CPUFallback(t *testing.T) {
	info := NewDetector(fakeRunner(nil), "linux").Detect(context.Background())
	assert.Equal(t, GpuTypeCPU, info.Type)
	assert.Equal(t, "CPU Only", info.String())
}

func TestParseNvidiaSmi_Malformed(t *testing.T) {
	assert.Nil(t, parseNvidiaSmi("garbage"))
	assert.Nil(t, parseNvidiaSmi("RTX, lots, 1.0"))
}

func TestRecommendVariant(t *testing.T) {
	tests := []struct {
		name   string
		gpu    *GpuInfo
		goos   string
		goarch string
		want   string
	}{
		{"nvidia", &GpuInfo{Name: "NVIDIA RTX", Type: GpuTypeNvidia}, "linux", "amd64", "cuda_12"},
		{"nvidia on arm falls back", &GpuInfo{Type: GpuTypeNvidia}, "linux", "arm64", "cpu"},
		{"amd", &GpuInfo{Type: GpuTypeAmd}, "windows", "amd64", "hip_radeon"},
		{"intel arc", &GpuInfo{Type: GpuTypeIntel}, "linux", "amd64", "vulkan"},
		{"apple", &GpuInfo{Type: GpuTypeAppleSilicon}, "darwin", "arm64", "cpu"},
		{"windows arm cpu", &GpuInfo{Type: GpuTypeCPU}, "windows", "arm64", "cpu_arm"},
		{"nil gpu", nil, "linux", "amd64", "cpu"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := RecommendVariant(tt.gpu, tt.goos, tt.goarch)
			assert.Equal(t, tt.want, rec.Variant)
			assert.NotEmpty(t, rec.Reason)
		})
	}
}
