package model

import "gorm.io/gorm"

// AutoMigrate 迁移所有表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Repository{},
		&RepositoryFile{},
		&CodeEntity{},
		&AnalysisJob{},
	)
}
