package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/knowledgeflow/internal/metrics"
	"github.com/BaSui01/knowledgeflow/rag"
	"github.com/BaSui01/knowledgeflow/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EntityStore 实体、标签与版本的 gorm 存储
type EntityStore struct {
	db      *gorm.DB
	metrics *metrics.Collector
	logger  *zap.Logger
}

var (
	_ rag.LexicalStore = (*EntityStore)(nil)
	_ rag.EntityLookup = (*EntityStore)(nil)
)

// NewEntityStore 创建实体存储
func NewEntityStore(db *gorm.DB, collector *metrics.Collector, logger *zap.Logger) *EntityStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EntityStore{
		db:      db,
		metrics: collector,
		logger:  logger.With(zap.String("component", "entity_store")),
	}
}

func toDocument(e Entity) rag.Document {
	return rag.Document{
		ID:        e.ID,
		Title:     e.Title,
		Content:   e.Content,
		Source:    e.Source,
		UpdatedAt: e.UpdatedAt,
	}
}

// SearchLexical 标题或正文包含 text 的实体，按更新时间倒序
func (s *EntityStore) SearchLexical(ctx context.Context, text string, topK int, filter rag.Filter) ([]rag.Document, error) {
	if topK <= 0 {
		return []rag.Document{}, nil
	}
	defer observe(s.metrics, "search_lexical")()

	pattern := likePattern(text)
	q := s.db.WithContext(ctx).Model(&Entity{}).
		Select("id, title, content, source, updated_at").
		Where("(title LIKE ? OR content LIKE ?)", pattern, pattern)
	if filter.Source != "" {
		q = q.Where("source = ?", filter.Source)
	}

	var rows []Entity
	if err := q.Order("updated_at DESC").Limit(topK).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	docs := make([]rag.Document, 0, len(rows))
	for _, e := range rows {
		docs = append(docs, toDocument(e))
	}
	return docs, nil
}

// LookupEntities 批量查询实体，不存在的 ID 不出现在结果中
func (s *EntityStore) LookupEntities(ctx context.Context, ids []string) (map[string]rag.Document, error) {
	out := make(map[string]rag.Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	defer observe(s.metrics, "lookup_entities")()

	var rows []Entity
	err := s.db.WithContext(ctx).
		Select("id, title, content, source, updated_at").
		Where("id IN ?", ids).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("lookup entities: %w", err)
	}
	for _, e := range rows {
		out[e.ID] = toDocument(e)
	}
	return out, nil
}

// IndexOptions 批量向量化的筛选条件
type IndexOptions struct {
	Source string
	// OnlyMissing 只返回尚未写入向量索引的实体
	OnlyMissing bool
	Limit       int
}

// Indexable 返回已审核且有正文的实体，按更新时间倒序
func (s *EntityStore) Indexable(ctx context.Context, opts IndexOptions) ([]rag.Document, error) {
	defer observe(s.metrics, "indexable_entities")()

	q := s.db.WithContext(ctx).Model(&Entity{}).
		Select("id, title, content, source, updated_at").
		Where("review_status = ? AND content <> ''", ReviewApproved)
	if opts.Source != "" {
		q = q.Where("source = ?", opts.Source)
	}
	if opts.OnlyMissing {
		q = q.Where("vector_id IS NULL")
	}
	q = q.Order("updated_at DESC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}

	var rows []Entity
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list indexable entities: %w", err)
	}
	docs := make([]rag.Document, 0, len(rows))
	for _, e := range rows {
		docs = append(docs, toDocument(e))
	}
	return docs, nil
}

// MarkIndexed 记录实体已写入向量索引，不更新 updated_at
func (s *EntityStore) MarkIndexed(ctx context.Context, entityID string) error {
	defer observe(s.metrics, "mark_indexed")()

	res := s.db.WithContext(ctx).Model(&Entity{}).
		Where("id = ?", entityID).
		UpdateColumn("vector_id", entityID)
	if res.Error != nil {
		return fmt.Errorf("mark entity %s indexed: %w", entityID, res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewNotFoundError("entity not found")
	}
	return nil
}

// Get 查询单个实体
func (s *EntityStore) Get(ctx context.Context, id string) (*Entity, error) {
	defer observe(s.metrics, "get_entity")()

	var e Entity
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewNotFoundError("entity not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get entity %s: %w", id, err)
	}
	return &e, nil
}

// TagIDs 返回实体关联的标签 ID
func (s *EntityStore) TagIDs(ctx context.Context, entityID string) ([]string, error) {
	ids := []string{}
	err := s.db.WithContext(ctx).Model(&EntityTag{}).
		Where("entity_id = ?", entityID).
		Order("tag_type, tag_id").
		Pluck("tag_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("entity tags: %w", err)
	}
	return ids, nil
}

// ListOptions 实体列表过滤条件
type ListOptions struct {
	Source  string
	Keyword string
	Limit   int
}

// List 按更新时间倒序列出实体，Keyword 只匹配标题
func (s *EntityStore) List(ctx context.Context, opts ListOptions) ([]Entity, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	defer observe(s.metrics, "list_entities")()

	q := s.db.WithContext(ctx).Model(&Entity{}).
		Select("id, title, source, review_status, created_at, updated_at")
	if opts.Source != "" {
		q = q.Where("source = ?", opts.Source)
	}
	if opts.Keyword != "" {
		q = q.Where("title LIKE ?", likePattern(opts.Keyword))
	}

	rows := []Entity{}
	if err := q.Order("updated_at DESC").Limit(opts.Limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	return rows, nil
}

// CreateInput 新建实体参数
type CreateInput struct {
	Title       string
	Content     string
	Source      string
	ContentType string
	CreatedBy   string
}

// Create 新建待审核实体，并写入第 1 版快照
func (s *EntityStore) Create(ctx context.Context, in CreateInput) (*Entity, error) {
	if in.Title == "" {
		return nil, types.NewInvalidRequestError("title is required")
	}
	if in.Source == "" {
		in.Source = "agent"
	}
	if in.ContentType == "" {
		in.ContentType = "text/markdown"
	}
	defer observe(s.metrics, "create_entity")()

	now := time.Now().UTC()
	e := &Entity{
		ID:             uuid.NewString(),
		Source:         in.Source,
		Title:          in.Title,
		Content:        in.Content,
		ContentType:    in.ContentType,
		CurrentVersion: 1,
		ReviewStatus:   ReviewPending,
		CreatedBy:      in.CreatedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(e).Error; err != nil {
			return err
		}
		return tx.Create(&EntityVersion{
			EntityID:  e.ID,
			Version:   1,
			Title:     e.Title,
			Content:   e.Content,
			CreatedBy: e.CreatedBy,
			CreatedAt: now,
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create entity: %w", err)
	}

	s.logger.Info("entity created", zap.String("entity_id", e.ID), zap.String("source", e.Source))
	return e, nil
}

// AddTags 按名称解析标签并关联到实体，已存在的关联忽略。
// 返回实际解析到的标签，形如 "folder:name" 或 "content:name"。
func (s *EntityStore) AddTags(ctx context.Context, entityID string, folderTags, contentTags []string) ([]string, error) {
	if _, err := s.Get(ctx, entityID); err != nil {
		return nil, err
	}
	defer observe(s.metrics, "add_tags")()

	added := []string{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		link := func(tagID, tagType string) error {
			return tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&EntityTag{EntityID: entityID, TagID: tagID, TagType: tagType}).Error
		}

		for _, name := range folderTags {
			var tag FolderTag
			err := tx.Where("name = ?", name).First(&tag).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if err := link(tag.ID, TagTypeFolder); err != nil {
				return err
			}
			added = append(added, TagTypeFolder+":"+name)
		}

		for _, name := range contentTags {
			var tag ContentTag
			err := tx.Where("name = ?", name).First(&tag).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if err := link(tag.ID, TagTypeContent); err != nil {
				return err
			}
			added = append(added, TagTypeContent+":"+name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("add tags to %s: %w", entityID, err)
	}
	return added, nil
}

// FolderTags 目录树标签，按 sort_order 排序
func (s *EntityStore) FolderTags(ctx context.Context) ([]FolderTag, error) {
	tags := []FolderTag{}
	if err := s.db.WithContext(ctx).Order("sort_order").Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("folder tags: %w", err)
	}
	return tags, nil
}

// ContentTags 内容标签，按使用次数倒序
func (s *EntityStore) ContentTags(ctx context.Context) ([]ContentTag, error) {
	tags := []ContentTag{}
	if err := s.db.WithContext(ctx).Order("usage_count DESC").Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("content tags: %w", err)
	}
	return tags, nil
}

// StatusDimensionView 状态维度，Options 已解析
type StatusDimensionView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Options     any    `json:"options"`
	Description string `json:"description"`
}

// StatusDimensions 状态维度。Options 不是合法 JSON 时原样返回字符串。
func (s *EntityStore) StatusDimensions(ctx context.Context) ([]StatusDimensionView, error) {
	var rows []StatusDimension
	if err := s.db.WithContext(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("status dimensions: %w", err)
	}
	views := make([]StatusDimensionView, 0, len(rows))
	for _, r := range rows {
		views = append(views, StatusDimensionView{
			ID:          r.ID,
			Name:        r.Name,
			Options:     types.DecodeJSON[any]([]byte(r.Options)).OrElse(r.Options),
			Description: r.Description,
		})
	}
	return views, nil
}

// Stats 知识库统计
type Stats struct {
	TotalEntities   int64            `json:"total_entities"`
	BySource        map[string]int64 `json:"by_source"`
	ByReviewStatus  map[string]int64 `json:"by_review_status"`
	ContentTagCount int64            `json:"content_tag_count"`
}

type groupCount struct {
	Grp string
	Cnt int64
}

// Stats 统计实体总数、来源分布、审核状态分布与内容标签数
func (s *EntityStore) Stats(ctx context.Context) (*Stats, error) {
	defer observe(s.metrics, "stats")()
	db := s.db.WithContext(ctx)

	st := &Stats{BySource: map[string]int64{}, ByReviewStatus: map[string]int64{}}
	if err := db.Model(&Entity{}).Count(&st.TotalEntities).Error; err != nil {
		return nil, fmt.Errorf("count entities: %w", err)
	}

	var rows []groupCount
	if err := db.Model(&Entity{}).Select("source AS grp, COUNT(*) AS cnt").Group("source").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("count by source: %w", err)
	}
	for _, r := range rows {
		st.BySource[r.Grp] = r.Cnt
	}

	rows = nil
	if err := db.Model(&Entity{}).Select("review_status AS grp, COUNT(*) AS cnt").Group("review_status").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("count by review status: %w", err)
	}
	for _, r := range rows {
		st.ByReviewStatus[r.Grp] = r.Cnt
	}

	if err := db.Model(&ContentTag{}).Count(&st.ContentTagCount).Error; err != nil {
		return nil, fmt.Errorf("count content tags: %w", err)
	}
	return st, nil
}
