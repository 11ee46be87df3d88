package testutil

import (
	"fmt"
	"os"
	"testing"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/qs3c/anal_graph_server/internal/model"
)

// SetupTestDB 创建测试数据库（SQLite 内存模式）
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to connect test database: %v", err)
	}

	// 内存库每个连接是独立的数据库，后台 goroutine 必须共用同一连接
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get underlying DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := model.AutoMigrate(db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	return db
}

// SetupTestDBWithMySQL 使用 MySQL 测试数据库（需要环境变量）
func SetupTestDBWithMySQL(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set, skipping MySQL tests")
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to connect test database: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	return db
}

// CleanupTestDB 清理测试数据库
func CleanupTestDB(t *testing.T, db *gorm.DB) {
	t.Helper()

	sqlDB, err := db.DB()
	if err != nil {
		t.Logf("Warning: Failed to get underlying DB: %v", err)
		return
	}

	if err := sqlDB.Close(); err != nil {
		t.Logf("Warning: Failed to close test database: %v", err)
	}
}

// TruncateTables 清空所有表数据
func TruncateTables(t *testing.T, db *gorm.DB) {
	t.Helper()

	tables := []string{
		"code_entities",
		"repository_files",
		"analysis_jobs",
		"repositories",
	}

	for _, table := range tables {
		if err := db.Exec(fmt.Sprintf("DELETE FROM %s", table)).Error; err != nil {
			t.Logf("Warning: Failed to truncate table %s: %v", table, err)
		}
	}
}

// FailFileWrites 让指定路径的 RepositoryFile 写入失败，用于模拟部分写入失败
func FailFileWrites(t *testing.T, db *gorm.DB, paths ...string) {
	t.Helper()

	failing := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		failing[p] = struct{}{}
	}

	name := fmt.Sprintf("testutil:fail_file_writes_%d", len(paths))
	err := db.Callback().Create().Before("gorm:create").Register(name, func(tx *gorm.DB) {
		f, ok := tx.Statement.Dest.(*model.RepositoryFile)
		if !ok {
			return
		}
		if _, fail := failing[f.FilePath]; fail {
			tx.AddError(fmt.Errorf("simulated write failure for %s", f.FilePath))
		}
	})
	if err != nil {
		t.Fatalf("Failed to register failing callback: %v", err)
	}
}
