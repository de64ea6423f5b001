package testutil

import (
	"context"
	"iter"
	"testing"
	"time"

	"github.com/BaSui01/knowledgeflow/store"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// =============================================================================
// 🗄️ 知识库数据
// =============================================================================

// NewSQLiteDB 返回已建表的内存 sqlite 库（glebarez 纯 Go 驱动），测试结束自动关闭
func NewSQLiteDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	// 单连接，保证所有查询落在同一个内存库
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := store.AutoMigrate(context.Background(), db); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return db
}

// SeedEntity 写入一条已审核实体
func SeedEntity(t testing.TB, db *gorm.DB, id, title, content, source string) store.Entity {
	t.Helper()
	now := time.Now().UTC()
	e := store.Entity{
		ID:           id,
		Source:       source,
		Title:        title,
		Content:      content,
		ContentType:  "text/markdown",
		ReviewStatus: store.ReviewApproved,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := db.Create(&e).Error; err != nil {
		t.Fatalf("seed entity %s: %v", id, err)
	}
	return e
}

// SeedRelation 写入一条 from --[relType]--> to 的关系
func SeedRelation(t testing.TB, db *gorm.DB, from, to, relType string) {
	t.Helper()
	rel := store.EntityRelation{FromEntityID: from, ToEntityID: to, RelType: relType}
	if err := db.Create(&rel).Error; err != nil {
		t.Fatalf("seed relation %s -> %s: %v", from, to, err)
	}
}

// Collect 收集序列中的全部元素，用于流式接口
func Collect[T any](seq iter.Seq[T]) []T {
	var out []T
	for v := range seq {
		out = append(out, v)
	}
	return out
}
