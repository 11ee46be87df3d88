package worker

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/qs3c/anal_graph_server/internal/model"
	"github.com/qs3c/anal_graph_server/internal/repository"
)

const (
	reuploadInterval  = 5 * time.Minute
	reuploadBatchSize = 100
)

// Reuploader 后台异步重传本地快照到 OSS
type Reuploader struct {
	jobRepo  *repository.JobRepository
	uploader SnapshotUploader
	localDir string
}

// NewReuploader 创建重传器
func NewReuploader(jobRepo *repository.JobRepository, uploader SnapshotUploader, localDir string) *Reuploader {
	return &Reuploader{
		jobRepo:  jobRepo,
		uploader: uploader,
		localDir: localDir,
	}
}

// Start 启动后台重传循环
func (r *Reuploader) Start(ctx context.Context) {
	// 启动后先执行一次
	r.run()

	ticker := time.NewTicker(reuploadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Reuploader stopped")
			return
		case <-ticker.C:
			r.run()
		}
	}
}

// run 返回成功迁移的快照数
func (r *Reuploader) run() int {
	jobs, err := r.jobRepo.ListBySnapshotPrefix(model.LocalSnapshotScheme, reuploadBatchSize)
	if err != nil {
		log.Printf("Reuploader: failed to query local snapshots: %v", err)
		return 0
	}

	if len(jobs) == 0 {
		return 0
	}

	log.Printf("Reuploader: found %d local snapshots to re-upload", len(jobs))

	migrated := 0
	for _, job := range jobs {
		localPath := LocalSnapshotPath(r.localDir, job.ID)
		data, err := os.ReadFile(localPath)
		if err != nil {
			log.Printf("Reuploader: failed to read local snapshot %d: %v", job.ID, err)
			continue
		}

		url, err := r.uploader.UploadSnapshotWithRetry(job.RepositoryID, job.ID, data)
		if err != nil {
			log.Printf("Reuploader: failed to re-upload snapshot %d: %v", job.ID, err)
			continue
		}

		if err := r.jobRepo.UpdateSnapshotURL(job.ID, url); err != nil {
			log.Printf("Reuploader: failed to update DB for snapshot %d: %v", job.ID, err)
			continue
		}

		// 删除本地文件
		os.Remove(localPath)
		migrated++
		log.Printf("Reuploader: successfully re-uploaded snapshot %d to OSS", job.ID)
	}
	return migrated
}
