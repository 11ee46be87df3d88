package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"runtime/debug"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/qs3c/anal_graph_server/config"
	"github.com/qs3c/anal_graph_server/internal/analyzer"
	"github.com/qs3c/anal_graph_server/internal/model"
	"github.com/qs3c/anal_graph_server/internal/pkg/metrics"
	"github.com/qs3c/anal_graph_server/internal/pkg/pubsub"
	"github.com/qs3c/anal_graph_server/internal/pkg/queue"
	"github.com/qs3c/anal_graph_server/internal/repository"
	"github.com/qs3c/anal_graph_server/internal/synchronizer"
)

// ErrToolUnavailable 在拿到文件总数之前分析工具连续失败
var ErrToolUnavailable = errors.New("analysis tool unavailable")

const maxErrorMessageLen = 500

// ProgressPublisher 进度推送
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, msg *pubsub.ProgressMessage) error
}

// Processor 任务处理器，负责单个分析任务从 PENDING 到终态的全过程
type Processor struct {
	jobRepo   *repository.JobRepository
	sync      *synchronizer.Synchronizer
	client    analyzer.Client
	publisher ProgressPublisher
	archiver  *Archiver
	cfg       *config.Config
}

// NewProcessor publisher 与 archiver 可以为 nil
func NewProcessor(
	jobRepo *repository.JobRepository,
	sync *synchronizer.Synchronizer,
	client analyzer.Client,
	publisher ProgressPublisher,
	archiver *Archiver,
	cfg *config.Config,
) *Processor {
	return &Processor{
		jobRepo:   jobRepo,
		sync:      sync,
		client:    client,
		publisher: publisher,
		archiver:  archiver,
		cfg:       cfg,
	}
}

// jobRun 单次运行的可变状态
type jobRun struct {
	job           *model.AnalysisJob
	msg           *queue.JobMessage
	files         []analyzer.FileResult
	summary       analyzer.Summary
	totalFiles    *int
	filesAnalysed int
	progress      int
}

// Process 处理分析任务。任务失败时已写入 FAILED，返回的错误仅用于日志
func (p *Processor) Process(ctx context.Context, msg *queue.JobMessage) (err error) {
	job, err := p.jobRepo.GetByID(msg.JobID)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}
	if job.IsTerminal() {
		log.Printf("Job %d: already %s, skipping", job.ID, job.Status)
		return nil
	}

	run := &jobRun{job: job, msg: msg}

	defer func() {
		if r := recover(); r != nil {
			err = p.handleError(ctx, run, fmt.Errorf("panic: %v", r), string(debug.Stack()))
		}
	}()

	if err := p.runAnalysis(ctx, run); err != nil {
		return p.handleError(ctx, run, err, "")
	}
	return nil
}

func (p *Processor) runAnalysis(ctx context.Context, run *jobRun) error {
	job, msg := run.job, run.msg

	// CLONING
	now := time.Now()
	if err := p.transition(ctx, run, model.JobStatusCloning, map[string]interface{}{"started_at": &now}); err != nil {
		return err
	}
	log.Printf("Job %d: preparing repository %s", job.ID, msg.RepositoryURL)

	if err := ValidateRepoURL(msg.RepositoryURL); err != nil {
		return fmt.Errorf("invalid repository url: %w", err)
	}

	// 全量重建：先清空上一代数据
	if err := p.sync.ResetRepository(ctx, msg.RepositoryID); err != nil {
		return err
	}

	// ANALYSING
	if err := p.transition(ctx, run, model.JobStatusAnalysing, nil); err != nil {
		return err
	}

	if err := p.runBatches(ctx, run); err != nil {
		return err
	}

	if _, err := p.sync.CreateImportRelationships(ctx, job.ID, msg.RepositoryID, run.files); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("Job %d: import relationships skipped: %v", job.ID, err)
	}

	return p.complete(ctx, run)
}

// runBatches 按窗口驱动分析工具。单个窗口失败只跳过该窗口；
// 在总数未知前连续失败达到上限则视为工具不可用
func (p *Processor) runBatches(ctx context.Context, run *jobRun) error {
	job, msg := run.job, run.msg
	batchSize := p.cfg.Analysis.BatchSize
	maxFailures := p.cfg.Analysis.MaxConsecutiveFailures
	maxBatches := p.cfg.Analysis.MaxBatches

	skip := 0
	failures := 0
	for batch := 0; ; batch++ {
		if run.totalFiles != nil && skip >= *run.totalFiles {
			return nil
		}
		if batch >= maxBatches {
			log.Printf("Job %d: stopped after %d batches at offset %d", job.ID, batch, skip)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := p.client.Analyze(ctx, &analyzer.Request{
			RepositoryURL: msg.RepositoryURL,
			RepositoryID:  msg.RepositoryID,
			MaxFiles:      batchSize,
			SkipFiles:     skip,
			Branch:        msg.Branch,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.BatchFetches.WithLabelValues("error").Inc()
			failures++
			log.Printf("Job %d: batch at offset %d failed (%d consecutive): %v", job.ID, skip, failures, err)
			if run.totalFiles == nil && failures >= maxFailures {
				return fmt.Errorf("%w: %d consecutive failures: %v", ErrToolUnavailable, failures, err)
			}
			skip += batchSize
			continue
		}
		metrics.BatchFetches.WithLabelValues("ok").Inc()
		failures = 0

		total := res.Summary.TotalFiles
		run.totalFiles = &total
		run.summary = res.Summary

		result, err := p.sync.StoreBatch(ctx, job.ID, msg.RepositoryID, res.Files)
		if err != nil {
			return err
		}
		run.files = append(run.files, res.Files...)
		run.filesAnalysed += result.Persisted

		log.Printf("Job %d: batch at offset %d stored %d/%d files (%d failed)",
			job.ID, skip, result.Persisted, len(res.Files), len(result.FailedFiles))

		if err := p.reportProgress(ctx, run); err != nil {
			return err
		}
		skip += batchSize
	}
}

// Progress 按已持久化文件数计算进度，总数未知或为 0 时返回 0
func Progress(filesAnalysed int, totalFiles *int) int {
	if totalFiles == nil || *totalFiles <= 0 {
		return 0
	}
	pct := int(math.Round(100 * float64(filesAnalysed) / float64(*totalFiles)))
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return pct
}

func (p *Processor) reportProgress(ctx context.Context, run *jobRun) error {
	// 进度单调不减
	if pct := Progress(run.filesAnalysed, run.totalFiles); pct > run.progress {
		run.progress = pct
	}

	fields := map[string]interface{}{
		"files_analysed": run.filesAnalysed,
		"progress":       run.progress,
		"total_files":    run.totalFiles,
	}
	if err := p.jobRepo.UpdateFields(run.job.ID, fields); err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	p.publish(ctx, run, model.JobStatusAnalysing, "")
	return nil
}

func (p *Processor) complete(ctx context.Context, run *jobRun) error {
	job := run.job

	total := run.filesAnalysed
	if run.totalFiles != nil && *run.totalFiles > total {
		total = *run.totalFiles
	}
	run.totalFiles = &total
	run.progress = 100

	completedAt := time.Now()
	fields := map[string]interface{}{
		"status":         model.JobStatusCompleted,
		"progress":       100,
		"files_analysed": run.filesAnalysed,
		"total_files":    total,
		"completed_at":   &completedAt,
	}
	if p.archiver != nil {
		if url := p.archiver.Archive(job.RepositoryID, job.ID, &analyzer.Result{Summary: run.summary, Files: run.files}); url != "" {
			fields["snapshot_url"] = url
		}
	}

	if err := p.jobRepo.UpdateFields(job.ID, fields); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	job.Status = model.JobStatusCompleted
	metrics.JobsFinished.WithLabelValues(model.JobStatusCompleted).Inc()
	p.publish(ctx, run, model.JobStatusCompleted, "")

	elapsed := 0
	if job.StartedAt != nil {
		elapsed = int(completedAt.Sub(*job.StartedAt).Seconds())
	}
	log.Printf("Job %d: completed in %d seconds, %d/%d files persisted", job.ID, elapsed, run.filesAnalysed, total)
	return nil
}

func (p *Processor) transition(ctx context.Context, run *jobRun, status string, extra map[string]interface{}) error {
	fields := map[string]interface{}{"status": status}
	for k, v := range extra {
		fields[k] = v
	}
	if err := p.jobRepo.UpdateFields(run.job.ID, fields); err != nil {
		return fmt.Errorf("failed to set job status %s: %w", status, err)
	}
	run.job.Status = status
	if startedAt, ok := extra["started_at"].(*time.Time); ok {
		run.job.StartedAt = startedAt
	}
	p.publish(ctx, run, status, "")
	return nil
}

// handleError 唯一进入 FAILED 的路径
func (p *Processor) handleError(ctx context.Context, run *jobRun, cause error, stack string) error {
	job := run.job
	message := shortMessage(cause)
	log.Printf("Job %d: failed: %v", job.ID, cause)

	details := map[string]string{
		"error": cause.Error(),
		"type":  fmt.Sprintf("%T", cause),
	}
	if stack != "" {
		details["stack"] = stack
	}
	detailJSON, _ := json.Marshal(details)

	completedAt := time.Now()
	err := p.jobRepo.UpdateFields(job.ID, map[string]interface{}{
		"status":        model.JobStatusFailed,
		"error_message": message,
		"error_details": datatypes.JSON(detailJSON),
		"completed_at":  &completedAt,
	})
	if err != nil {
		log.Printf("Job %d: failed to record failure: %v", job.ID, err)
		return cause
	}
	job.Status = model.JobStatusFailed
	metrics.JobsFinished.WithLabelValues(model.JobStatusFailed).Inc()
	// 任务上下文可能已取消，推送使用独立的 context
	p.publish(context.WithoutCancel(ctx), run, model.JobStatusFailed, message)
	return cause
}

func shortMessage(err error) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	if r := []rune(msg); len(r) > maxErrorMessageLen {
		msg = string(r[:maxErrorMessageLen])
	}
	return msg
}

func (p *Processor) publish(ctx context.Context, run *jobRun, status, errMsg string) {
	if p.publisher == nil {
		return
	}
	err := p.publisher.PublishProgress(ctx, &pubsub.ProgressMessage{
		RepositoryID:  run.msg.RepositoryID,
		JobID:         run.job.ID,
		Status:        status,
		Progress:      run.progress,
		FilesAnalysed: run.filesAnalysed,
		TotalFiles:    run.totalFiles,
		Error:         errMsg,
	})
	if err != nil {
		log.Printf("Job %d: failed to publish progress: %v", run.job.ID, err)
	}
}
