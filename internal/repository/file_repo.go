package repository

import (
	"gorm.io/gorm"

	"github.com/qs3c/anal_graph_server/internal/model"
)

// inClauseBatchSize 单条 IN 查询的参数上限，低于 SQLite 默认的 999 个绑定变量
const inClauseBatchSize = 500

type FileRepository struct {
	db *gorm.DB
}

func NewFileRepository(db *gorm.DB) *FileRepository {
	return &FileRepository{db: db}
}

func (r *FileRepository) Create(file *model.RepositoryFile) error {
	return r.db.Omit("Entities").Create(file).Error
}

func (r *FileRepository) GetByID(id int64) (*model.RepositoryFile, error) {
	var file model.RepositoryFile
	err := r.db.Where("id = ?", id).First(&file).Error
	if err != nil {
		return nil, err
	}
	return &file, nil
}

func (r *FileRepository) GetByGraphNodeID(graphNodeID string) (*model.RepositoryFile, error) {
	var file model.RepositoryFile
	err := r.db.Where("graph_node_id = ?", graphNodeID).First(&file).Error
	if err != nil {
		return nil, err
	}
	return &file, nil
}

// ListByRepositoryID 按路径排序返回仓库的全部文件
func (r *FileRepository) ListByRepositoryID(repositoryID int64) ([]*model.RepositoryFile, error) {
	var files []*model.RepositoryFile
	err := r.db.Where("repository_id = ?", repositoryID).Order("file_path ASC").Find(&files).Error
	return files, err
}

// ListByGraphNodeIDs 按跨库键取回文件，通常一次查询，超过 inClauseBatchSize 时分批
func (r *FileRepository) ListByGraphNodeIDs(graphNodeIDs []string) ([]*model.RepositoryFile, error) {
	var files []*model.RepositoryFile
	for start := 0; start < len(graphNodeIDs); start += inClauseBatchSize {
		end := min(start+inClauseBatchSize, len(graphNodeIDs))
		var batch []*model.RepositoryFile
		if err := r.db.Where("graph_node_id IN ?", graphNodeIDs[start:end]).Find(&batch).Error; err != nil {
			return nil, err
		}
		files = append(files, batch...)
	}
	return files, nil
}

func (r *FileRepository) CountByRepositoryID(repositoryID int64) (int64, error) {
	var count int64
	err := r.db.Model(&model.RepositoryFile{}).Where("repository_id = ?", repositoryID).Count(&count).Error
	return count, err
}

// DeleteByRepositoryID 先删实体再删文件，返回删除的文件数
func (r *FileRepository) DeleteByRepositoryID(repositoryID int64) (int64, error) {
	var deleted int64
	err := r.db.Transaction(func(tx *gorm.DB) error {
		fileIDs := tx.Model(&model.RepositoryFile{}).Select("id").Where("repository_id = ?", repositoryID)
		if err := tx.Where("file_id IN (?)", fileIDs).Delete(&model.CodeEntity{}).Error; err != nil {
			return err
		}
		result := tx.Where("repository_id = ?", repositoryID).Delete(&model.RepositoryFile{})
		deleted = result.RowsAffected
		return result.Error
	})
	return deleted, err
}
