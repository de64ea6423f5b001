package rag

import (
	"context"
	"fmt"
	"regexp"

	"github.com/BaSui01/knowledgeflow/config"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PgVectorIndex 基于 postgres + pgvector 的向量索引，表结构见 migrations/postgres/000003
type PgVectorIndex struct {
	db        *gorm.DB
	table     string
	dimension int
	logger    *zap.Logger
}

var (
	_ VectorIndex  = (*PgVectorIndex)(nil)
	_ VectorWriter = (*PgVectorIndex)(nil)
)

type pgVectorRow struct {
	EntityID    string
	Source      string
	TextPreview string
	Score       float64
}

// NewPgVectorIndex 创建 pgvector 索引
func NewPgVectorIndex(db *gorm.DB, cfg config.PgVectorConfig, logger *zap.Logger) (*PgVectorIndex, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	table := cfg.Table
	if table == "" {
		table = "entity_embeddings"
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid pgvector table name: %q", table)
	}
	return &PgVectorIndex{
		db:        db,
		table:     table,
		dimension: cfg.VectorDimension,
		logger:    logger.With(zap.String("component", "pgvector_index")),
	}, nil
}

// Search 余弦距离检索，score = 1 - distance
func (p *PgVectorIndex) Search(ctx context.Context, vec []float32, topK int, filter Filter) ([]VectorMatch, error) {
	if topK <= 0 {
		return []VectorMatch{}, nil
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("query embedding is required")
	}

	query := pgvector.NewVector(vec)
	sql := fmt.Sprintf(
		"SELECT entity_id, source, text_preview, 1 - (embedding <=> ?) AS score FROM %s", p.table)
	args := []any{query}
	if filter.Source != "" {
		sql += " WHERE source = ?"
		args = append(args, filter.Source)
	}
	sql += " ORDER BY embedding <=> ? LIMIT ?"
	args = append(args, query, topK)

	var rows []pgVectorRow
	if err := p.db.WithContext(ctx).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}

	matches := make([]VectorMatch, 0, len(rows))
	for _, r := range rows {
		matches = append(matches, VectorMatch{
			EntityID: r.EntityID,
			Score:    r.Score,
			Preview:  r.TextPreview,
			Source:   r.Source,
		})
	}
	return matches, nil
}

// Upsert 写入或覆盖实体向量
func (p *PgVectorIndex) Upsert(ctx context.Context, rec VectorRecord) error {
	if rec.EntityID == "" {
		return fmt.Errorf("entity id is required")
	}
	if p.dimension > 0 && len(rec.Embedding) != p.dimension {
		return fmt.Errorf("embedding dimension mismatch: got=%d want=%d", len(rec.Embedding), p.dimension)
	}

	sql := fmt.Sprintf(`INSERT INTO %s (entity_id, source, text_preview, embedding, updated_at)
VALUES (?, ?, ?, ?, NOW())
ON CONFLICT (entity_id) DO UPDATE SET
  source = EXCLUDED.source,
  text_preview = EXCLUDED.text_preview,
  embedding = EXCLUDED.embedding,
  updated_at = NOW()`, p.table)

	err := p.db.WithContext(ctx).Exec(sql,
		rec.EntityID, rec.Source, rec.Preview, pgvector.NewVector(rec.Embedding)).Error
	if err != nil {
		return fmt.Errorf("pgvector upsert %s: %w", rec.EntityID, err)
	}
	p.logger.Debug("vector upserted", zap.String("entity_id", rec.EntityID))
	return nil
}

// Delete 删除实体向量
func (p *PgVectorIndex) Delete(ctx context.Context, entityID string) error {
	sql := fmt.Sprintf("DELETE FROM %s WHERE entity_id = ?", p.table)
	if err := p.db.WithContext(ctx).Exec(sql, entityID).Error; err != nil {
		return fmt.Errorf("pgvector delete %s: %w", entityID, err)
	}
	return nil
}
