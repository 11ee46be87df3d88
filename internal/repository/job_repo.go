package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/anal_graph_server/internal/model"
)

// ErrJobFinalized 任务已处于终态，不允许再修改
var ErrJobFinalized = errors.New("job already finished")

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(job *model.AnalysisJob) error {
	return r.db.Create(job).Error
}

func (r *JobRepository) GetByID(id int64) (*model.AnalysisJob, error) {
	var job model.AnalysisJob
	err := r.db.Where("id = ?", id).First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetLatestByRepositoryID 获取仓库最近一次任务
func (r *JobRepository) GetLatestByRepositoryID(repositoryID int64) (*model.AnalysisJob, error) {
	var job model.AnalysisJob
	err := r.db.Where("repository_id = ?", repositoryID).
		Order("created_at DESC, id DESC").
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// FindActiveByRepositoryID 查找仓库正在进行中的任务，没有时返回 nil
func (r *JobRepository) FindActiveByRepositoryID(repositoryID int64) (*model.AnalysisJob, error) {
	var jobs []*model.AnalysisJob
	err := r.db.Where("repository_id = ? AND status IN ?", repositoryID, model.ActiveJobStatuses).
		Order("id DESC").
		Limit(1).
		Find(&jobs).Error
	if err != nil || len(jobs) == 0 {
		return nil, err
	}
	return jobs[0], nil
}

// FindLastCompletedByRepositoryID 查找仓库最近一次成功完成的任务，没有时返回 nil
func (r *JobRepository) FindLastCompletedByRepositoryID(repositoryID int64) (*model.AnalysisJob, error) {
	var jobs []*model.AnalysisJob
	err := r.db.Where("repository_id = ? AND status = ? AND completed_at IS NOT NULL", repositoryID, model.JobStatusCompleted).
		Order("completed_at DESC").
		Limit(1).
		Find(&jobs).Error
	if err != nil || len(jobs) == 0 {
		return nil, err
	}
	return jobs[0], nil
}

// UpdateFields 更新未结束的任务，任务已结束时返回 ErrJobFinalized
func (r *JobRepository) UpdateFields(id int64, fields map[string]interface{}) error {
	result := r.db.Model(&model.AnalysisJob{}).
		Where("id = ? AND status NOT IN ?", id, []string{model.JobStatusCompleted, model.JobStatusFailed}).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	job, err := r.GetByID(id)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return ErrJobFinalized
	}
	return nil
}

// ListBySnapshotPrefix 获取快照地址以指定前缀开头的已结束任务
func (r *JobRepository) ListBySnapshotPrefix(prefix string, limit int) ([]*model.AnalysisJob, error) {
	var jobs []*model.AnalysisJob
	err := r.db.Where("snapshot_url LIKE ? AND status IN ?", prefix+"%", []string{model.JobStatusCompleted, model.JobStatusFailed}).
		Order("id ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// UpdateSnapshotURL 快照迁移后更新地址，不受终态限制
func (r *JobRepository) UpdateSnapshotURL(id int64, url string) error {
	return r.db.Model(&model.AnalysisJob{}).Where("id = ?", id).Update("snapshot_url", url).Error
}

// FailStale 将长时间未更新的进行中任务标记为失败，用于进程重启后的清理
func (r *JobRepository) FailStale(before time.Time, message string) (int64, error) {
	now := time.Now()
	result := r.db.Model(&model.AnalysisJob{}).
		Where("status IN ? AND updated_at < ?", model.ActiveJobStatuses, before).
		Updates(map[string]interface{}{
			"status":        model.JobStatusFailed,
			"error_message": message,
			"completed_at":  &now,
		})
	return result.RowsAffected, result.Error
}
