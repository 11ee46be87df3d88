package worker

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/qs3c/anal_graph_server/internal/analyzer"
	"github.com/qs3c/anal_graph_server/internal/model"
)

// SnapshotUploader 远端快照存储，由 oss.Client 实现
type SnapshotUploader interface {
	UploadSnapshotWithRetry(repositoryID, jobID int64, data []byte) (string, error)
}

// Archiver 保存每次分析的原始结果，上传失败时落到本地目录等待重传
type Archiver struct {
	uploader SnapshotUploader
	localDir string
}

// NewArchiver uploader 为 nil 时只保存到本地
func NewArchiver(uploader SnapshotUploader, localDir string) *Archiver {
	return &Archiver{uploader: uploader, localDir: localDir}
}

// LocalSnapshotPath 本地快照文件路径
func LocalSnapshotPath(dir string, jobID int64) string {
	return filepath.Join(dir, fmt.Sprintf("%d.json", jobID))
}

// Archive 返回快照地址，全部失败时返回空字符串。失败只记录日志，不影响任务结果
func (a *Archiver) Archive(repositoryID, jobID int64, result *analyzer.Result) string {
	data, err := json.Marshal(result)
	if err != nil {
		log.Printf("Job %d: failed to encode snapshot: %v", jobID, err)
		return ""
	}

	if a.uploader != nil {
		url, err := a.uploader.UploadSnapshotWithRetry(repositoryID, jobID, data)
		if err == nil {
			return url
		}
		log.Printf("Job %d: snapshot upload failed, falling back to local: %v", jobID, err)
	}

	if a.localDir == "" {
		return ""
	}
	if err := os.MkdirAll(a.localDir, 0755); err != nil {
		log.Printf("Job %d: failed to create snapshot dir: %v", jobID, err)
		return ""
	}
	if err := os.WriteFile(LocalSnapshotPath(a.localDir, jobID), data, 0644); err != nil {
		log.Printf("Job %d: failed to save snapshot locally: %v", jobID, err)
		return ""
	}
	return model.LocalSnapshotURL(jobID)
}
