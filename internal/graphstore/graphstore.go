// Package graphstore 图存储抽象：File/Function/Class/Interface 节点与 CONTAINS/IMPORTS/EXPORTS 关系
package graphstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// 节点标签
const (
	LabelFile      = "File"
	LabelFunction  = "Function"
	LabelClass     = "Class"
	LabelInterface = "Interface"
)

// 关系类型
const (
	RelContains = "CONTAINS"
	RelImports  = "IMPORTS"
	RelExports  = "EXPORTS"
)

// UnboundedDepth 不限制遍历深度
const UnboundedDepth = -1

// MaxCycleLength 环检测时跟随的最大 IMPORTS 跳数
const MaxCycleLength = 10

var (
	ErrUnsupportedLabel        = errors.New("unsupported node label")
	ErrUnsupportedRelationship = errors.New("unsupported relationship type")
	ErrNodeNotFound            = errors.New("graph node not found")
)

// Direction 遍历方向
type Direction int

const (
	// Outgoing 沿 IMPORTS 正向，求依赖
	Outgoing Direction = iota
	// Incoming 沿 IMPORTS 反向，求被依赖
	Incoming
)

func (d Direction) String() string {
	if d == Incoming {
		return "incoming"
	}
	return "outgoing"
}

// Store 图存储
type Store interface {
	EnsureIndexes(ctx context.Context) error
	CreateFileNodes(ctx context.Context, files []FileNode) error
	CreateEntityNodes(ctx context.Context, fileID string, entities []EntityNode) error
	CreateRelationship(ctx context.Context, edge Edge) error
	CreateImportRelationships(ctx context.Context, edges []ImportEdge) (int, error)
	DeleteRepository(ctx context.Context, repositoryID int64) error
	RepositoryFiles(ctx context.Context, repositoryID int64, q FileQuery) ([]FileSubgraph, error)
	ReachableFiles(ctx context.Context, fileID string, dir Direction, depth int) ([]FileSubgraph, error)
	ReachableEdges(ctx context.Context, fileID string, dir Direction, depth int) ([]Edge, error)
	FindCycles(ctx context.Context, repositoryID int64, limit int) ([]Cycle, error)
	Close() error
}

type FileNode struct {
	ID           string `json:"id"`
	RepositoryID int64  `json:"repositoryId"`
	Path         string `json:"path"`
	Name         string `json:"name"`
	FileType     string `json:"fileType"`
	LinesOfCode  int    `json:"linesOfCode"`
}

type EntityNode struct {
	ID           string `json:"id"`
	RepositoryID int64  `json:"repositoryId"`
	Label        string `json:"label"`
	Name         string `json:"name"`
	FilePath     string `json:"filePath"`
	StartLine    int    `json:"startLine"`
	EndLine      int    `json:"endLine"`
	Exported     bool   `json:"exported"`
}

type Edge struct {
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
}

// ImportEdge 文件间的 IMPORTS 关系，Specifiers 为导入的符号
type ImportEdge struct {
	SourceFileID string
	TargetFileID string
	Specifiers   []string
}

// FileSubgraph 一个文件及其包含的实体与出向 IMPORTS 关系
type FileSubgraph struct {
	File     FileNode
	Entities []EntityNode
	Imports  []Edge
}

// FileQuery 文件列表的过滤与分页
type FileQuery struct {
	FileType string
	Limit    int
	Offset   int
}

// Cycle 闭合的 IMPORTS 环，NodeIDs 首尾相同，Length 为边数
type Cycle struct {
	NodeIDs []string
	Paths   []string
	Length  int
}

var entityLabels = map[string]string{
	"function":  LabelFunction,
	"method":    LabelFunction,
	"class":     LabelClass,
	"interface": LabelInterface,
}

// EntityLabel 将实体类型映射到图标签，未知类型返回 ErrUnsupportedLabel
func EntityLabel(kind string) (string, error) {
	if label, ok := entityLabels[strings.ToLower(kind)]; ok {
		return label, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedLabel, kind)
}

// IsEntityLabel 标签是否在实体白名单内
func IsEntityLabel(label string) bool {
	switch label {
	case LabelFunction, LabelClass, LabelInterface:
		return true
	}
	return false
}

// IsRelationship 关系类型是否在白名单内
func IsRelationship(rel string) bool {
	switch rel {
	case RelContains, RelImports, RelExports:
		return true
	}
	return false
}

// ValidDepth 深度只允许 1..3 或 -1
func ValidDepth(depth int) bool {
	return depth == UnboundedDepth || (depth >= 1 && depth <= 3)
}
