package rag

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/knowledgeflow/internal/pool"
	"github.com/BaSui01/knowledgeflow/llm"
	"go.uber.org/zap"
)

const (
	indexTextRunes    = 8000
	indexPreviewRunes = 500
)

// Indexer 为单个实体生成向量并写入索引
type Indexer struct {
	gateway llm.Gateway
	writer  VectorWriter
	logger  *zap.Logger
}

// NewIndexer 创建索引器
func NewIndexer(gateway llm.Gateway, writer VectorWriter, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		gateway: gateway,
		writer:  writer,
		logger:  logger.With(zap.String("component", "indexer")),
	}
}

// Index 向量化 title + content 并写入索引
func (ix *Indexer) Index(ctx context.Context, doc Document) error {
	if ix == nil || ix.writer == nil {
		return nil
	}
	text := Clip(doc.Title+"\n\n"+CleanText(doc.Content), indexTextRunes)
	vec, err := ix.gateway.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed entity %s: %w", doc.ID, err)
	}
	rec := VectorRecord{
		EntityID:  doc.ID,
		Embedding: vec,
		Preview:   Clip(CleanText(doc.Content), indexPreviewRunes),
		Source:    doc.Source,
	}
	if err := ix.writer.Upsert(ctx, rec); err != nil {
		return err
	}
	ix.logger.Debug("entity indexed", zap.String("entity_id", doc.ID), zap.Int("dimension", len(vec)))
	return nil
}

// IndexReport 批量向量化结果
type IndexReport struct {
	Total   int      `json:"total"`
	Indexed int      `json:"indexed"`
	Failed  []string `json:"failed,omitempty"`
	// ctx 结束后未提交的实体数
	Skipped int `json:"skipped"`
}

// IndexAll 以 workers 并发度向量化 docs。单个实体失败不影响其余实体；
// onIndexed 在实体写入成功后调用，返回错误时该实体计入失败。
func (ix *Indexer) IndexAll(ctx context.Context, docs []Document, workers int,
	onIndexed func(ctx context.Context, entityID string) error) IndexReport {
	report := IndexReport{Total: len(docs)}
	if ix == nil || ix.writer == nil || len(docs) == 0 {
		report.Skipped = len(docs)
		return report
	}

	var mu sync.Mutex
	p := pool.New(pool.Config{Workers: workers, QueueSize: workers}, ix.logger,
		pool.WithErrorHandler(func(err error) {
			ix.logger.Warn("entity indexing failed", zap.Error(err))
		}))

	submitted := 0
	for _, doc := range docs {
		err := p.Submit(ctx, func(ctx context.Context) error {
			err := ix.Index(ctx, doc)
			if err == nil && onIndexed != nil {
				err = onIndexed(ctx, doc.ID)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed = append(report.Failed, doc.ID)
				return err
			}
			report.Indexed++
			return nil
		})
		if err != nil {
			break
		}
		submitted++
	}
	p.Close()

	report.Skipped = len(docs) - submitted
	sort.Strings(report.Failed)
	ix.logger.Info("batch indexing finished",
		zap.Int("total", report.Total),
		zap.Int("indexed", report.Indexed),
		zap.Int("failed", len(report.Failed)),
		zap.Int("skipped", report.Skipped),
	)
	return report
}
