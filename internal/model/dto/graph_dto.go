package dto

import "encoding/json"

// GraphNode 图节点，Metadata 为关系库补全的信息，补全失败时为空
type GraphNode struct {
	ID          string        `json:"id"`
	Label       string        `json:"label"`
	Name        string        `json:"name"`
	Path        string        `json:"path,omitempty"`
	FileType    string        `json:"file_type,omitempty"`
	LinesOfCode int           `json:"lines_of_code,omitempty"`
	StartLine   int           `json:"start_line,omitempty"`
	EndLine     int           `json:"end_line,omitempty"`
	Exported    bool          `json:"exported,omitempty"`
	Metadata    *NodeMetadata `json:"metadata,omitempty"`
}

type NodeMetadata struct {
	RecordID    int64           `json:"record_id"`
	Kind        string          `json:"kind,omitempty"`
	AISummary   *string         `json:"ai_summary,omitempty"`
	Annotations json.RawMessage `json:"annotations,omitempty"`
}

// GraphEdge ID 由 (source, type, target) 确定
type GraphEdge struct {
	ID     string         `json:"id"`
	Source string         `json:"source"`
	Target string         `json:"target"`
	Type   string         `json:"type"`
	Data   map[string]any `json:"data,omitempty"`
}

type GraphResponse struct {
	Nodes  []*GraphNode `json:"nodes"`
	Edges  []*GraphEdge `json:"edges"`
	Limit  int          `json:"limit,omitempty"`
	Offset int          `json:"offset"`
}

// DependencyResponse 依赖或被依赖遍历结果，不含起点文件
type DependencyResponse struct {
	FileID    string       `json:"file_id"`
	Direction string       `json:"direction"`
	Depth     int          `json:"depth"`
	Nodes     []*GraphNode `json:"nodes"`
	Edges     []*GraphEdge `json:"edges"`
}

// CycleItem 闭合环，NodeIDs 首尾相同
type CycleItem struct {
	NodeIDs []string `json:"node_ids"`
	Paths   []string `json:"paths"`
	Length  int      `json:"length"`
}

type CyclesResponse struct {
	Cycles []*CycleItem `json:"cycles"`
	Count  int          `json:"count"`
}
