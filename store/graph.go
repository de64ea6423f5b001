package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/knowledgeflow/internal/metrics"
	"github.com/BaSui01/knowledgeflow/rag"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	graphLimit  = 20
	graphHeader = "Knowledge graph relations:"
)

// Relation 一条图谱关系，Entity 为命中标题的一端
type Relation struct {
	Entity        string `json:"entity"`
	Relation      string `json:"relation"`
	RelatedEntity string `json:"related_entity"`
}

// GraphStore 基于 entity_relations 表的简单知识图谱
type GraphStore struct {
	db      *gorm.DB
	metrics *metrics.Collector
	logger  *zap.Logger
}

var _ rag.GraphStore = (*GraphStore)(nil)

// NewGraphStore 创建图谱存储
func NewGraphStore(db *gorm.DB, collector *metrics.Collector, logger *zap.Logger) *GraphStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraphStore{
		db:      db,
		metrics: collector,
		logger:  logger.With(zap.String("component", "graph_store")),
	}
}

type relationRow struct {
	FromID    string
	ToID      string
	RelType   string
	FromTitle string
	ToTitle   string
}

func (g *GraphStore) relationsOf(ctx context.Context, ids []string, relType string, limit int) ([]relationRow, error) {
	q := g.db.WithContext(ctx).Table("entity_relations AS r").
		Select("r.from_entity_id AS from_id, r.to_entity_id AS to_id, r.rel_type, f.title AS from_title, t.title AS to_title").
		Joins("JOIN entities f ON f.id = r.from_entity_id").
		Joins("JOIN entities t ON t.id = r.to_entity_id").
		Where("(r.from_entity_id IN ? OR r.to_entity_id IN ?)", ids, ids)
	if relType != "" {
		q = q.Where("r.rel_type = ?", relType)
	}

	var rows []relationRow
	if err := q.Order("r.id").Limit(limit).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("query relations: %w", err)
	}
	return rows, nil
}

type titledEntity struct {
	ID    string
	Title string
}

func (g *GraphStore) matchEntities(ctx context.Context, title string) ([]titledEntity, error) {
	var ents []titledEntity
	err := g.db.WithContext(ctx).Model(&Entity{}).
		Select("id, title").
		Where("title LIKE ?", likePattern(title)).
		Order("updated_at DESC").
		Limit(graphLimit).
		Scan(&ents).Error
	if err != nil {
		return nil, fmt.Errorf("match entities: %w", err)
	}
	return ents, nil
}

// Relations 标题包含 title 的实体的关系（双向），最多 20 条
func (g *GraphStore) Relations(ctx context.Context, title, relType string) ([]Relation, error) {
	defer observe(g.metrics, "graph_relations")()

	ents, err := g.matchEntities(ctx, title)
	if err != nil || len(ents) == 0 {
		return []Relation{}, err
	}
	matched := make(map[string]bool, len(ents))
	ids := make([]string, 0, len(ents))
	for _, e := range ents {
		matched[e.ID] = true
		ids = append(ids, e.ID)
	}

	rows, err := g.relationsOf(ctx, ids, relType, graphLimit)
	if err != nil {
		return nil, err
	}
	out := make([]Relation, 0, len(rows))
	for _, r := range rows {
		if matched[r.FromID] {
			out = append(out, Relation{Entity: r.FromTitle, Relation: r.RelType, RelatedEntity: r.ToTitle})
		} else {
			out = append(out, Relation{Entity: r.ToTitle, Relation: r.RelType, RelatedEntity: r.FromTitle})
		}
	}
	return out, nil
}

// Traverse 渲染与种子文本相关的图谱上下文。命中但没有关系的实体单独列出；无命中时返回空串。
func (g *GraphStore) Traverse(ctx context.Context, seed string) (string, error) {
	if strings.TrimSpace(seed) == "" {
		return "", nil
	}
	defer observe(g.metrics, "graph_traverse")()

	ents, err := g.matchEntities(ctx, seed)
	if err != nil || len(ents) == 0 {
		return "", err
	}
	ids := make([]string, 0, len(ents))
	for _, e := range ents {
		ids = append(ids, e.ID)
	}
	rows, err := g.relationsOf(ctx, ids, "", graphLimit)
	if err != nil {
		return "", err
	}

	lines := make([]string, 0, graphLimit)
	for _, e := range ents {
		related := false
		for _, r := range rows {
			switch e.ID {
			case r.FromID:
				lines = append(lines, fmt.Sprintf("- %s --[%s]--> %s", e.Title, r.RelType, r.ToTitle))
				related = true
			case r.ToID:
				lines = append(lines, fmt.Sprintf("- %s --[%s]--> %s", e.Title, r.RelType, r.FromTitle))
				related = true
			}
		}
		if !related {
			lines = append(lines, "- "+e.Title)
		}
		if len(lines) >= graphLimit {
			lines = lines[:graphLimit]
			break
		}
	}
	return graphHeader + "\n" + strings.Join(lines, "\n"), nil
}
