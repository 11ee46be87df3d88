package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/anal_graph_server/config"
	"github.com/qs3c/anal_graph_server/internal/model"
	"github.com/qs3c/anal_graph_server/internal/model/dto"
	"github.com/qs3c/anal_graph_server/internal/pkg/lock"
	"github.com/qs3c/anal_graph_server/internal/pkg/queue"
	"github.com/qs3c/anal_graph_server/internal/repository"
)

var (
	ErrRepositoryNotFound = errors.New("仓库不存在")
	ErrJobNotFound        = errors.New("任务不存在")
	ErrAnalysisInProgress = errors.New("该仓库已有进行中的分析任务")
	ErrAnalysisCooldown   = errors.New("分析过于频繁，请稍后再试")
)

// CooldownError 最近一次分析仍在冷却期内，Remaining 为剩余等待时间
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s（还需等待 %d 秒）", ErrAnalysisCooldown.Error(), e.RemainingSeconds())
}

func (e *CooldownError) Is(target error) bool {
	return target == ErrAnalysisCooldown
}

// RemainingSeconds 向上取整的剩余秒数
func (e *CooldownError) RemainingSeconds() int {
	return int(math.Ceil(e.Remaining.Seconds()))
}

// Dispatcher 把已创建的任务交给后台执行，调用方不等待任务结束
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *queue.JobMessage) error
}

type AnalysisService struct {
	repoRepo   *repository.RepositoryRepository
	jobRepo    *repository.JobRepository
	locker     lock.Locker
	dispatcher Dispatcher
	cfg        *config.Config
}

func NewAnalysisService(
	repoRepo *repository.RepositoryRepository,
	jobRepo *repository.JobRepository,
	locker lock.Locker,
	dispatcher Dispatcher,
	cfg *config.Config,
) *AnalysisService {
	return &AnalysisService{
		repoRepo:   repoRepo,
		jobRepo:    jobRepo,
		locker:     locker,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
}

func startLockKey(repositoryID int64) string {
	return fmt.Sprintf("analysis:start:%d", repositoryID)
}

// StartAnalysis 创建分析任务并交给后台执行，立即返回任务 ID。
// 冲突检查与任务创建在同一把仓库锁内完成
func (s *AnalysisService) StartAnalysis(ctx context.Context, repositoryID int64) (int64, error) {
	repo, err := s.repoRepo.GetByID(repositoryID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrRepositoryNotFound
		}
		return 0, err
	}

	release, err := s.locker.Acquire(ctx, startLockKey(repositoryID))
	if err != nil {
		if errors.Is(err, lock.ErrLockHeld) {
			return 0, ErrAnalysisInProgress
		}
		return 0, err
	}
	defer release()

	if err := s.checkConflict(repositoryID); err != nil {
		return 0, err
	}

	job := &model.AnalysisJob{
		RepositoryID: repositoryID,
		Status:       model.JobStatusPending,
	}
	if err := s.jobRepo.Create(job); err != nil {
		return 0, err
	}

	msg := &queue.JobMessage{
		JobID:         job.ID,
		RepositoryID:  repo.ID,
		RepositoryURL: repo.URL,
		Branch:        repo.Branch,
	}
	if err := s.dispatcher.Dispatch(ctx, msg); err != nil {
		// 派发失败的任务不能一直占着 PENDING，否则仓库再也无法发起分析
		log.Printf("Job %d: dispatch failed: %v", job.ID, err)
		now := time.Now()
		if uerr := s.jobRepo.UpdateFields(job.ID, map[string]interface{}{
			"status":        model.JobStatusFailed,
			"error_message": "任务派发失败",
			"completed_at":  &now,
		}); uerr != nil {
			log.Printf("Job %d: failed to mark undispatched job: %v", job.ID, uerr)
		}
		return 0, fmt.Errorf("failed to dispatch job: %w", err)
	}

	log.Printf("Job %d: created for repository %d", job.ID, repositoryID)
	return job.ID, nil
}

func (s *AnalysisService) checkConflict(repositoryID int64) error {
	active, err := s.jobRepo.FindActiveByRepositoryID(repositoryID)
	if err != nil {
		return err
	}
	if active != nil {
		return ErrAnalysisInProgress
	}

	cooldown := s.cfg.Analysis.Cooldown()
	if cooldown <= 0 {
		return nil
	}
	last, err := s.jobRepo.FindLastCompletedByRepositoryID(repositoryID)
	if err != nil {
		return err
	}
	if last == nil || last.CompletedAt == nil {
		return nil
	}
	if elapsed := time.Since(*last.CompletedAt); elapsed < cooldown {
		return &CooldownError{Remaining: cooldown - elapsed}
	}
	return nil
}

// GetJobStatus 获取任务状态
func (s *AnalysisService) GetJobStatus(ctx context.Context, jobID int64) (*dto.JobStatusResponse, error) {
	job, err := s.jobRepo.GetByID(jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return buildJobStatus(job), nil
}

// GetLatestJob 获取仓库最近一次任务
func (s *AnalysisService) GetLatestJob(ctx context.Context, repositoryID int64) (*dto.JobStatusResponse, error) {
	if _, err := s.repoRepo.GetByID(repositoryID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRepositoryNotFound
		}
		return nil, err
	}

	job, err := s.jobRepo.GetLatestByRepositoryID(repositoryID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return buildJobStatus(job), nil
}

func buildJobStatus(job *model.AnalysisJob) *dto.JobStatusResponse {
	resp := &dto.JobStatusResponse{
		JobID:         job.ID,
		RepositoryID:  job.RepositoryID,
		Status:        job.Status,
		Progress:      job.Progress,
		FilesAnalysed: job.FilesAnalysed,
		TotalFiles:    job.TotalFiles,
		ErrorMessage:  job.ErrorMessage,
		SnapshotURL:   job.SnapshotURL,
		CreatedAt:     job.CreatedAt.Format(time.RFC3339),
	}
	if len(job.ErrorDetails) > 0 {
		resp.ErrorDetails = []byte(job.ErrorDetails)
	}
	// 本地快照对调用方不可访问
	if model.IsLocalSnapshot(resp.SnapshotURL) {
		resp.SnapshotURL = ""
	}

	if job.StartedAt != nil {
		resp.StartedAt = job.StartedAt.Format(time.RFC3339)
		end := time.Now()
		if job.CompletedAt != nil {
			end = *job.CompletedAt
		}
		resp.ElapsedSeconds = int(end.Sub(*job.StartedAt).Seconds())
	}
	if job.CompletedAt != nil {
		resp.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}
	return resp
}
