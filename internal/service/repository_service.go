package service

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/anal_graph_server/internal/model"
	"github.com/qs3c/anal_graph_server/internal/model/dto"
	"github.com/qs3c/anal_graph_server/internal/repository"
	"github.com/qs3c/anal_graph_server/internal/worker"
)

type RepositoryService struct {
	repoRepo *repository.RepositoryRepository
}

func NewRepositoryService(repoRepo *repository.RepositoryRepository) *RepositoryService {
	return &RepositoryService{repoRepo: repoRepo}
}

// Create 登记待分析的仓库，地址格式错误时返回 *worker.RepoURLError
func (s *RepositoryService) Create(ctx context.Context, req *dto.CreateRepositoryRequest) (*dto.RepositoryInfo, error) {
	url := strings.TrimSpace(req.URL)
	if err := worker.ValidateRepoURL(url); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = repoNameFromURL(url)
	}

	repo := &model.Repository{
		Name:   name,
		URL:    url,
		Branch: strings.TrimSpace(req.Branch),
	}
	if err := s.repoRepo.Create(repo); err != nil {
		return nil, err
	}
	return buildRepositoryInfo(repo), nil
}

// Get 获取仓库
func (s *RepositoryService) Get(ctx context.Context, id int64) (*dto.RepositoryInfo, error) {
	repo, err := s.repoRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRepositoryNotFound
		}
		return nil, err
	}
	return buildRepositoryInfo(repo), nil
}

// List 分页获取仓库
func (s *RepositoryService) List(ctx context.Context, page, pageSize int) (*dto.RepositoryListResponse, error) {
	repos, total, err := s.repoRepo.List(page, pageSize)
	if err != nil {
		return nil, err
	}

	items := make([]*dto.RepositoryInfo, len(repos))
	for i, r := range repos {
		items[i] = buildRepositoryInfo(r)
	}
	return &dto.RepositoryListResponse{
		Repositories: items,
		Total:        total,
		Page:         page,
		PageSize:     pageSize,
	}, nil
}

// repoNameFromURL https://github.com/user/repo.git -> repo
func repoNameFromURL(url string) string {
	if i := strings.LastIndex(url, ":"); strings.HasPrefix(url, "git@") && i >= 0 {
		url = url[i+1:]
	}
	return strings.TrimSuffix(path.Base(strings.TrimRight(url, "/")), ".git")
}

func buildRepositoryInfo(r *model.Repository) *dto.RepositoryInfo {
	return &dto.RepositoryInfo{
		ID:        r.ID,
		Name:      r.Name,
		URL:       r.URL,
		Branch:    r.Branch,
		CreatedAt: r.CreatedAt.Format(time.RFC3339),
	}
}
