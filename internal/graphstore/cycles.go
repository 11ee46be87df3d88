package graphstore

import (
	"sort"
	"strings"
)

// CanonicalCycle 将闭合环旋转为以最小 ID 开头，便于去重。输入输出均为 [A, B, ..., A] 形式
func CanonicalCycle(ids []string) []string {
	if len(ids) < 2 {
		return append([]string(nil), ids...)
	}
	open := ids[:len(ids)-1]
	start := 0
	for i := range open {
		if open[i] < open[start] {
			start = i
		}
	}
	out := make([]string, 0, len(ids))
	out = append(out, open[start:]...)
	out = append(out, open[:start]...)
	out = append(out, out[0])
	return out
}

// IsSimpleCycle 除首尾外没有重复节点
func IsSimpleCycle(ids []string) bool {
	if len(ids) < 2 || ids[0] != ids[len(ids)-1] {
		return false
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids[:len(ids)-1] {
		if _, ok := seen[id]; ok {
			return false
		}
		seen[id] = struct{}{}
	}
	return true
}

// NormalizeCycles 去重、按长度和节点 ID 排序并截断到 limit
func NormalizeCycles(cycles []Cycle, limit int) []Cycle {
	seen := make(map[string]struct{}, len(cycles))
	out := make([]Cycle, 0, len(cycles))
	for _, c := range cycles {
		if !IsSimpleCycle(c.NodeIDs) {
			continue
		}
		canonical := CanonicalCycle(c.NodeIDs)
		key := strings.Join(canonical, "\x00")
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		paths := c.Paths
		if len(paths) == len(c.NodeIDs) {
			paths = rotatePaths(c.NodeIDs, canonical, paths)
		}
		out = append(out, Cycle{NodeIDs: canonical, Paths: paths, Length: len(canonical) - 1})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Length != out[j].Length {
			return out[i].Length < out[j].Length
		}
		return strings.Join(out[i].NodeIDs, "\x00") < strings.Join(out[j].NodeIDs, "\x00")
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func rotatePaths(original, canonical, paths []string) []string {
	byID := make(map[string]string, len(original))
	for i, id := range original {
		byID[id] = paths[i]
	}
	out := make([]string, len(canonical))
	for i, id := range canonical {
		out[i] = byID[id]
	}
	return out
}
