package model

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// 任务状态，COMPLETED 与 FAILED 为终态
const (
	JobStatusPending   = "PENDING"
	JobStatusCloning   = "CLONING"
	JobStatusAnalysing = "ANALYSING"
	JobStatusCompleted = "COMPLETED"
	JobStatusFailed    = "FAILED"
)

// ActiveJobStatuses 非终态状态集合
var ActiveJobStatuses = []string{JobStatusPending, JobStatusCloning, JobStatusAnalysing}

type AnalysisJob struct {
	ID            int64          `gorm:"primaryKey" json:"id"`
	RepositoryID  int64          `gorm:"not null;index" json:"repository_id"`
	Status        string         `gorm:"size:20;default:PENDING;index" json:"status"`
	Progress      int            `gorm:"not null;default:0" json:"progress"`
	FilesAnalysed int            `gorm:"not null;default:0" json:"files_analysed"`
	TotalFiles    *int           `json:"total_files,omitempty"`
	SnapshotURL   string         `gorm:"size:500;index" json:"snapshot_url,omitempty"`
	ErrorMessage  *string        `gorm:"type:text" json:"error_message,omitempty"`
	ErrorDetails  datatypes.JSON `json:"error_details,omitempty"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	CreatedAt     time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (AnalysisJob) TableName() string {
	return "analysis_jobs"
}

// IsTerminal 任务是否已结束
func (j *AnalysisJob) IsTerminal() bool {
	return IsTerminalStatus(j.Status)
}

func IsTerminalStatus(status string) bool {
	return status == JobStatusCompleted || status == JobStatusFailed
}

// LocalSnapshotScheme 未能上传 OSS、暂存在本地的快照地址前缀
const LocalSnapshotScheme = "local://"

func LocalSnapshotURL(jobID int64) string {
	return fmt.Sprintf("%s%d", LocalSnapshotScheme, jobID)
}

// IsLocalSnapshot 快照是否仍在本地等待上传
func IsLocalSnapshot(url string) bool {
	return strings.HasPrefix(url, LocalSnapshotScheme)
}
