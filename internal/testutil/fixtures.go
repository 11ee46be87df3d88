package testutil

import (
	"encoding/json"
	"fmt"
	"path"
	"testing"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/qs3c/anal_graph_server/internal/model"
)

// TestRepository 创建测试仓库
func TestRepository(t *testing.T, db *gorm.DB, opts ...func(*model.Repository)) *model.Repository {
	t.Helper()

	repo := &model.Repository{
		Name:   fmt.Sprintf("repo_%d", time.Now().UnixNano()%10000),
		URL:    "https://github.com/example/repo",
		Branch: "main",
	}

	for _, opt := range opts {
		opt(repo)
	}

	if err := db.Create(repo).Error; err != nil {
		t.Fatalf("Failed to create test repository: %v", err)
	}

	return repo
}

// WithRepoURL 设置仓库地址
func WithRepoURL(url string) func(*model.Repository) {
	return func(r *model.Repository) {
		r.URL = url
	}
}

// TestJob 创建测试任务
func TestJob(t *testing.T, db *gorm.DB, repositoryID int64, status string, opts ...func(*model.AnalysisJob)) *model.AnalysisJob {
	t.Helper()

	job := &model.AnalysisJob{
		RepositoryID: repositoryID,
		Status:       status,
	}
	if model.IsTerminalStatus(status) {
		now := time.Now()
		job.CompletedAt = &now
		if status == model.JobStatusCompleted {
			job.Progress = 100
		}
	}

	for _, opt := range opts {
		opt(job)
	}

	if err := db.Create(job).Error; err != nil {
		t.Fatalf("Failed to create test job: %v", err)
	}

	return job
}

// WithCompletedAt 设置任务完成时间
func WithCompletedAt(at time.Time) func(*model.AnalysisJob) {
	return func(j *model.AnalysisJob) {
		j.CompletedAt = &at
	}
}

// WithSnapshotURL 设置快照地址
func WithSnapshotURL(url string) func(*model.AnalysisJob) {
	return func(j *model.AnalysisJob) {
		j.SnapshotURL = url
	}
}

// TestFile 创建测试文件记录
func TestFile(t *testing.T, db *gorm.DB, repositoryID int64, filePath string, opts ...func(*model.RepositoryFile)) *model.RepositoryFile {
	t.Helper()

	file := &model.RepositoryFile{
		RepositoryID: repositoryID,
		FilePath:     filePath,
		FileName:     path.Base(filePath),
		FileType:     model.FileTypeOf(filePath),
		LinesOfCode:  20,
		GraphNodeID:  model.FileNodeID(repositoryID, filePath),
		Annotations:  datatypes.JSON(`{"imports":[],"exports":[]}`),
	}

	for _, opt := range opts {
		opt(file)
	}

	if err := db.Create(file).Error; err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	return file
}

// WithAISummary 设置 AI 摘要
func WithAISummary(summary string) func(*model.RepositoryFile) {
	return func(f *model.RepositoryFile) {
		f.AISummary = &summary
	}
}

// TestEntity 创建测试实体，annotations 中写入跨库键
func TestEntity(t *testing.T, db *gorm.DB, file *model.RepositoryFile, name, kind string, startLine, endLine int) *model.CodeEntity {
	t.Helper()

	ann, _ := json.Marshal(model.EntityAnnotations{
		GraphNodeID: model.EntityNodeID(file.RepositoryID, file.FilePath, name),
	})
	entity := &model.CodeEntity{
		FileID:      file.ID,
		Name:        name,
		Kind:        kind,
		StartLine:   startLine,
		EndLine:     endLine,
		Annotations: datatypes.JSON(ann),
	}

	if err := db.Create(entity).Error; err != nil {
		t.Fatalf("Failed to create test entity: %v", err)
	}

	return entity
}
