package dto

// CreateRepositoryRequest 登记仓库请求
type CreateRepositoryRequest struct {
	Name   string `json:"name" binding:"omitempty,max=200"`
	URL    string `json:"url" binding:"required,max=500"`
	Branch string `json:"branch,omitempty" binding:"omitempty,max=100"`
}

// RepositoryInfo 仓库信息
type RepositoryInfo struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	Branch    string `json:"branch,omitempty"`
	CreatedAt string `json:"created_at"`
}

// RepositoryListResponse 仓库列表
type RepositoryListResponse struct {
	Repositories []*RepositoryInfo `json:"repositories"`
	Total        int64             `json:"total"`
	Page         int               `json:"page"`
	PageSize     int               `json:"page_size"`
}
