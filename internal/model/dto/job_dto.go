package dto

import "encoding/json"

// StartAnalysisResponse 启动分析响应
type StartAnalysisResponse struct {
	JobID int64 `json:"job_id"`
}

// JobStatusResponse 任务状态，调用方轮询直到终态
type JobStatusResponse struct {
	JobID          int64           `json:"job_id"`
	RepositoryID   int64           `json:"repository_id"`
	Status         string          `json:"status"`
	Progress       int             `json:"progress"`
	FilesAnalysed  int             `json:"files_analysed"`
	TotalFiles     *int            `json:"total_files,omitempty"`
	ErrorMessage   *string         `json:"error_message,omitempty"`
	ErrorDetails   json.RawMessage `json:"error_details,omitempty"`
	SnapshotURL    string          `json:"snapshot_url,omitempty"`
	CreatedAt      string          `json:"created_at"`
	StartedAt      string          `json:"started_at,omitempty"`
	CompletedAt    string          `json:"completed_at,omitempty"`
	ElapsedSeconds int             `json:"elapsed_seconds,omitempty"`
}
