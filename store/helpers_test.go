package store

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 单连接，保证所有查询落在同一个内存库
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, AutoMigrate(context.Background(), db))
	return db
}

func seedEntity(t *testing.T, db *gorm.DB, id, title, content, source string, updated time.Time) {
	t.Helper()
	require.NoError(t, db.Create(&Entity{
		ID:           id,
		Source:       source,
		Title:        title,
		Content:      content,
		ContentType:  "text",
		ReviewStatus: ReviewPending,
		CreatedAt:    updated,
		UpdatedAt:    updated,
	}).Error)
}
