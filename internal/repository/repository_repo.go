package repository

import (
	"gorm.io/gorm"

	"github.com/qs3c/anal_graph_server/internal/model"
)

type RepositoryRepository struct {
	db *gorm.DB
}

func NewRepositoryRepository(db *gorm.DB) *RepositoryRepository {
	return &RepositoryRepository{db: db}
}

func (r *RepositoryRepository) Create(repo *model.Repository) error {
	return r.db.Create(repo).Error
}

func (r *RepositoryRepository) GetByID(id int64) (*model.Repository, error) {
	var repo model.Repository
	err := r.db.Where("id = ?", id).First(&repo).Error
	if err != nil {
		return nil, err
	}
	return &repo, nil
}

// List 分页获取仓库列表
func (r *RepositoryRepository) List(page, pageSize int) ([]*model.Repository, int64, error) {
	var repos []*model.Repository
	var total int64

	query := r.db.Model(&model.Repository{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Order("id DESC").Offset(offset).Limit(pageSize).Find(&repos).Error
	return repos, total, err
}
