// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

// deepMerge merges src into dst. Objects present on both sides are merged
// recursively; any other value in src overwrites dst.
func deepMerge(dst, src map[string]any) {
	for k, v := range src {
		srcObj, srcIsObj := v.(map[string]any)
		dstObj, dstIsObj := dst[k].(map[string]any)
		if srcIsObj && dstIsObj {
			deepMerge(dstObj, srcObj)
			continue
		}
		dst[k] = v
	}
}
