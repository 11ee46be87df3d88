// Package analyzer 外部代码分析工具的调用边界
package analyzer

import (
	"context"
	"errors"
)

var (
	// ErrToolFailed 分析工具返回了错误结果
	ErrToolFailed = errors.New("analysis tool reported an error")
	// ErrEmptyResult 分析工具没有返回可解析的内容
	ErrEmptyResult = errors.New("analysis tool returned no content")
)

// Client 分析工具客户端，每次调用分析一个文件窗口
type Client interface {
	Analyze(ctx context.Context, req *Request) (*Result, error)
}

// Request 一次批量分析请求，SkipFiles/MaxFiles 描述文件窗口
type Request struct {
	RepositoryURL string `json:"repositoryUrl"`
	RepositoryID  int64  `json:"repositoryId"`
	MaxFiles      int    `json:"maxFiles"`
	SkipFiles     int    `json:"skipFiles"`
	Branch        string `json:"branch,omitempty"`
}

type Result struct {
	Summary Summary      `json:"summary"`
	Files   []FileResult `json:"files"`
}

// Summary 汇总信息，TotalFiles 为整个仓库的文件总数
type Summary struct {
	TotalFiles         int            `json:"totalFiles"`
	TotalLines         int            `json:"totalLines"`
	SuccessfulAnalyses int            `json:"successfulAnalyses"`
	FailedAnalyses     int            `json:"failedAnalyses"`
	FilesByType        map[string]int `json:"filesByType,omitempty"`
}

// FileResult 单个文件的分析结果，Analysis 为 nil 表示该文件分析失败
type FileResult struct {
	FilePath     string        `json:"filePath"`
	RelativePath string        `json:"relativePath"`
	Analysis     *FileAnalysis `json:"analysis"`
	Error        string        `json:"error,omitempty"`
}

type FileAnalysis struct {
	FileName string   `json:"fileName"`
	FileType string   `json:"fileType"`
	Lines    int      `json:"lines"`
	Imports  []Import `json:"imports"`
	Exports  []string `json:"exports"`
	Entities []Entity `json:"entities"`
}

type Import struct {
	Source     string   `json:"source"`
	Specifiers []string `json:"specifiers,omitempty"`
	IsExternal bool     `json:"isExternal,omitempty"`
}

// Entity 函数、类或接口，行号从 1 开始
type Entity struct {
	Name      string `json:"name"`
	Type      string `json:"type"` // function, class, interface
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
}

// Path 仓库内相对路径，工具未给出时退回 FilePath
func (f *FileResult) Path() string {
	if f.RelativePath != "" {
		return f.RelativePath
	}
	return f.FilePath
}

// Analysed 统计拿到分析内容的文件数
func Analysed(files []FileResult) int {
	n := 0
	for i := range files {
		if files[i].Analysis != nil {
			n++
		}
	}
	return n
}
