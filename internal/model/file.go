package model

import (
	"time"

	"gorm.io/datatypes"
)

// RepositoryFile 一次分析中的单个文件
type RepositoryFile struct {
	ID           int64          `gorm:"primaryKey" json:"id"`
	RepositoryID int64          `gorm:"not null;uniqueIndex:idx_repo_file_path,priority:1" json:"repository_id"`
	FilePath     string         `gorm:"size:700;not null;uniqueIndex:idx_repo_file_path,priority:2" json:"file_path"`
	FileName     string         `gorm:"size:255;not null" json:"file_name"`
	FileType     string         `gorm:"size:20;index" json:"file_type"`
	LinesOfCode  int            `gorm:"not null;default:0" json:"lines_of_code"`
	GraphNodeID  string         `gorm:"size:760;not null;index" json:"graph_node_id"`
	Annotations  datatypes.JSON `json:"annotations,omitempty"`
	AISummary    *string        `gorm:"type:text" json:"ai_summary,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`

	Entities []CodeEntity `gorm:"foreignKey:FileID" json:"entities,omitempty"`
}

func (RepositoryFile) TableName() string {
	return "repository_files"
}

// CodeEntity 文件中的函数、类或接口
type CodeEntity struct {
	ID          int64          `gorm:"primaryKey" json:"id"`
	FileID      int64          `gorm:"not null;index" json:"file_id"`
	Name        string         `gorm:"size:255;not null;index" json:"name"`
	Kind        string         `gorm:"size:20;not null" json:"kind"`
	StartLine   int            `gorm:"not null" json:"start_line"`
	EndLine     int            `gorm:"not null" json:"end_line"`
	Annotations datatypes.JSON `json:"annotations,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (CodeEntity) TableName() string {
	return "code_entities"
}

// FileAnnotations RepositoryFile.Annotations 的结构
type FileAnnotations struct {
	Imports []ImportAnnotation `json:"imports"`
	Exports []string           `json:"exports"`
}

type ImportAnnotation struct {
	Source     string   `json:"source"`
	Specifiers []string `json:"specifiers,omitempty"`
	IsExternal bool     `json:"isExternal,omitempty"`
}

// EntityAnnotations CodeEntity.Annotations 的结构，graphNodeId 为跨库关联键
type EntityAnnotations struct {
	GraphNodeID string `json:"graphNodeId"`
	Exported    bool   `json:"exported,omitempty"`
}
