package repository

import (
	"gorm.io/gorm"

	"github.com/qs3c/anal_graph_server/internal/model"
)

const entityBatchSize = 100

type EntityRepository struct {
	db *gorm.DB
}

func NewEntityRepository(db *gorm.DB) *EntityRepository {
	return &EntityRepository{db: db}
}

// BulkCreate 批量写入实体
func (r *EntityRepository) BulkCreate(entities []*model.CodeEntity) error {
	if len(entities) == 0 {
		return nil
	}
	return r.db.CreateInBatches(entities, entityBatchSize).Error
}

func (r *EntityRepository) ListByFileID(fileID int64) ([]*model.CodeEntity, error) {
	var entities []*model.CodeEntity
	err := r.db.Where("file_id = ?", fileID).Order("start_line ASC").Find(&entities).Error
	return entities, err
}

// ListByFileIDs 取回给定文件下的全部实体，IN 列表按 inClauseBatchSize 分批
func (r *EntityRepository) ListByFileIDs(fileIDs []int64) ([]*model.CodeEntity, error) {
	var entities []*model.CodeEntity
	for start := 0; start < len(fileIDs); start += inClauseBatchSize {
		end := min(start+inClauseBatchSize, len(fileIDs))
		var batch []*model.CodeEntity
		err := r.db.Where("file_id IN ?", fileIDs[start:end]).
			Order("file_id ASC, start_line ASC").
			Find(&batch).Error
		if err != nil {
			return nil, err
		}
		entities = append(entities, batch...)
	}
	return entities, nil
}
