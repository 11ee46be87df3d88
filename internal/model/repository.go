package model

import (
	"time"
)

// Repository 被分析的代码仓库
type Repository struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:200;not null" json:"name"`
	URL       string    `gorm:"size:500;not null" json:"url"`
	Branch    string    `gorm:"size:100" json:"branch,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Repository) TableName() string {
	return "repositories"
}
