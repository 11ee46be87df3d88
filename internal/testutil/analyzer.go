package testutil

import (
	"context"
	"path"
	"sync"

	"github.com/qs3c/anal_graph_server/internal/analyzer"
	"github.com/qs3c/anal_graph_server/internal/model"
)

// StaticAnalyzer 按窗口返回预置文件结果的分析工具
type StaticAnalyzer struct {
	Files []analyzer.FileResult
	// FailAt 对指定 SkipFiles 偏移返回错误
	FailAt map[int]error
	// FailAll 非空时每次调用都返回该错误
	FailAll error

	mu       sync.Mutex
	requests []analyzer.Request
}

func (a *StaticAnalyzer) Analyze(ctx context.Context, req *analyzer.Request) (*analyzer.Result, error) {
	a.mu.Lock()
	a.requests = append(a.requests, *req)
	a.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a.FailAll != nil {
		return nil, a.FailAll
	}
	if err, ok := a.FailAt[req.SkipFiles]; ok {
		return nil, err
	}

	start := req.SkipFiles
	if start > len(a.Files) {
		start = len(a.Files)
	}
	end := start + req.MaxFiles
	if req.MaxFiles <= 0 || end > len(a.Files) {
		end = len(a.Files)
	}
	window := a.Files[start:end]

	res := &analyzer.Result{
		Summary: analyzer.Summary{
			TotalFiles:         len(a.Files),
			SuccessfulAnalyses: analyzer.Analysed(window),
			FailedAnalyses:     len(window) - analyzer.Analysed(window),
		},
		Files: window,
	}
	return res, nil
}

// Requests 已收到的请求
func (a *StaticAnalyzer) Requests() []analyzer.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]analyzer.Request(nil), a.requests...)
}

// AnalysedFile 构造一个分析成功的文件结果
func AnalysedFile(relPath string, lines int, imports []analyzer.Import, exports []string, entities ...analyzer.Entity) analyzer.FileResult {
	return analyzer.FileResult{
		FilePath:     "/tmp/checkout/" + relPath,
		RelativePath: relPath,
		Analysis: &analyzer.FileAnalysis{
			FileName: path.Base(relPath),
			FileType: model.FileTypeOf(relPath),
			Lines:    lines,
			Imports:  imports,
			Exports:  exports,
			Entities: entities,
		},
	}
}

// FailedFile 构造一个分析失败的文件结果
func FailedFile(relPath, message string) analyzer.FileResult {
	return analyzer.FileResult{
		FilePath:     "/tmp/checkout/" + relPath,
		RelativePath: relPath,
		Error:        message,
	}
}
