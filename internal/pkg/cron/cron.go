package cron

import (
	"errors"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/anal_graph_server/internal/model"
	"github.com/qs3c/anal_graph_server/internal/repository"
)

const (
	staleJobMessage = "analysis interrupted: no progress within the allowed window"
	reapInterval    = 10 * time.Minute
	cleanupInterval = 1 * time.Hour
	snapshotMinAge  = 1 * time.Hour
	snapshotFileExt = ".json"
)

// GraphGC 支持 value log 回收的图存储
type GraphGC interface {
	RunGC() error
}

type Service struct {
	jobRepo     *repository.JobRepository
	graphGC     GraphGC
	snapshotDir string
	staleAfter  time.Duration
	gcInterval  time.Duration
	stopChan    chan struct{}
}

// NewService graphGC 为 nil 时不执行图存储回收
func NewService(
	jobRepo *repository.JobRepository,
	graphGC GraphGC,
	snapshotDir string,
	staleAfter time.Duration,
	gcInterval time.Duration,
) *Service {
	return &Service{
		jobRepo:     jobRepo,
		graphGC:     graphGC,
		snapshotDir: snapshotDir,
		staleAfter:  staleAfter,
		gcInterval:  gcInterval,
		stopChan:    make(chan struct{}),
	}
}

// Start 启动定时任务
func (s *Service) Start() {
	go s.every(reapInterval, s.reapStaleJobs)
	go s.every(cleanupInterval, func() { s.cleanupSnapshots(snapshotMinAge) })
	if s.graphGC != nil && s.gcInterval > 0 {
		go s.every(s.gcInterval, s.runGraphGC)
	}
	log.Println("Cron service started (stale job reaper + snapshot cleanup + graph gc)")
}

// Stop 停止定时任务
func (s *Service) Stop() {
	close(s.stopChan)
	log.Println("Cron service stopped")
}

func (s *Service) every(interval time.Duration, task func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			task()
		}
	}
}

// reapStaleJobs 进程崩溃或重启后遗留的进行中任务标记为失败，避免仓库永久处于冲突状态
func (s *Service) reapStaleJobs() {
	if s.jobRepo == nil || s.staleAfter <= 0 {
		return
	}
	n, err := s.jobRepo.FailStale(time.Now().Add(-s.staleAfter), staleJobMessage)
	if err != nil {
		log.Printf("Cron: failed to reap stale jobs: %v", err)
		return
	}
	if n > 0 {
		log.Printf("Cron: marked %d stale jobs as FAILED", n)
	}
}

// cleanupSnapshots 删除已迁移到 OSS 或任务已不存在的本地快照（<snapshotDir>/<jobID>.json）
func (s *Service) cleanupSnapshots(minAge time.Duration) int {
	if s.snapshotDir == "" || s.jobRepo == nil {
		return 0
	}

	entries, err := os.ReadDir(s.snapshotDir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Cleanup snapshots: failed to read dir %s: %v", s.snapshotDir, err)
		}
		return 0
	}

	cleaned := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, snapshotFileExt) {
			continue
		}
		jobID, err := strconv.ParseInt(strings.TrimSuffix(name, snapshotFileExt), 10, 64)
		if err != nil {
			continue
		}

		info, err := entry.Info()
		if err != nil || time.Since(info.ModTime()) < minAge {
			continue
		}

		job, err := s.jobRepo.GetByID(jobID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		// 仍指向本地文件的快照等待 Reuploader 处理
		if job != nil && model.IsLocalSnapshot(job.SnapshotURL) {
			continue
		}

		localPath := filepath.Join(s.snapshotDir, name)
		if err := os.Remove(localPath); err != nil {
			log.Printf("Cleanup snapshots: failed to remove %s: %v", localPath, err)
			continue
		}
		cleaned++
	}
	if cleaned > 0 {
		log.Printf("Cleanup summary: snapshots=%d", cleaned)
	}
	return cleaned
}

func (s *Service) runGraphGC() {
	if err := s.graphGC.RunGC(); err != nil {
		log.Printf("Cron: graph store gc failed: %v", err)
	}
}

// RunNow 立即执行一次全部任务（用于测试或手动触发）
func (s *Service) RunNow() {
	s.reapStaleJobs()
	s.cleanupSnapshots(0)
	if s.graphGC != nil {
		s.runGraphGC()
	}
}
