// Package resolver 将 import 语句中的源路径解析为仓库内的规范文件路径
package resolver

import (
	"path"
	"strings"
)

const aliasPrefix = "@/"

// Extensions 按顺序尝试的扩展名
var Extensions = []string{".ts", ".tsx", ".js", ".jsx"}

// PathIndex 仓库内所有已知相对路径
type PathIndex map[string]struct{}

func NewPathIndex(paths ...string) PathIndex {
	idx := make(PathIndex, len(paths))
	for _, p := range paths {
		idx.Add(p)
	}
	return idx
}

func (idx PathIndex) Add(p string) {
	idx[p] = struct{}{}
}

func (idx PathIndex) Has(p string) bool {
	_, ok := idx[p]
	return ok
}

// IsResolvable 只有相对路径（.、..、./、../ 开头）与 @/ 别名会被解析，其余视为外部依赖
func IsResolvable(source string) bool {
	switch {
	case source == "." || source == "..":
		return true
	case strings.HasPrefix(source, "./") || strings.HasPrefix(source, "../"):
		return true
	}
	return strings.HasPrefix(source, aliasPrefix)
}

// Resolve 解析 importingFile 中的 source，未命中或为外部依赖时返回 false
func Resolve(source, importingFile string, index PathIndex) (string, bool) {
	if !IsResolvable(source) {
		return "", false
	}

	if strings.HasPrefix(source, aliasPrefix) {
		rest := strings.TrimPrefix(source, aliasPrefix)
		// 先按 src/ 映射，再按仓库根目录映射
		if resolved, ok := lookup(path.Join("src", rest), index); ok {
			return resolved, true
		}
		return lookup(rest, index)
	}

	return lookup(path.Join(path.Dir(importingFile), source), index)
}

func lookup(candidate string, index PathIndex) (string, bool) {
	candidate = path.Clean(candidate)
	if candidate == ".." || strings.HasPrefix(candidate, "../") || strings.HasPrefix(candidate, "/") {
		return "", false
	}
	return FindWithExtensions(candidate, index)
}

// FindWithExtensions 依次尝试精确路径、追加扩展名、目录下的 index 文件
func FindWithExtensions(candidate string, index PathIndex) (string, bool) {
	if index.Has(candidate) {
		return candidate, true
	}
	for _, ext := range Extensions {
		if p := candidate + ext; index.Has(p) {
			return p, true
		}
	}
	for _, ext := range Extensions {
		if p := path.Join(candidate, "index"+ext); index.Has(p) {
			return p, true
		}
	}
	return "", false
}
