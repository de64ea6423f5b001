package store

import (
	"context"
	"time"

	"github.com/BaSui01/knowledgeflow/internal/metrics"
	"gorm.io/gorm"
)

// AutoMigrate 按模型建表，仅用于 sqlite 开发库与测试；生产环境使用 migrate 子命令
func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(AllModels()...)
}

// observe 记录一次查询耗时，返回在查询结束时调用的函数
func observe(c *metrics.Collector, op string) func() {
	start := time.Now()
	return func() { c.RecordDBQuery("main", op, time.Since(start)) }
}

func likePattern(s string) string {
	return "%" + s + "%"
}
