package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/knowledgeflow/llm"
	"github.com/BaSui01/knowledgeflow/rag"
	"github.com/BaSui01/knowledgeflow/store"
	"github.com/BaSui01/knowledgeflow/types"
	"go.uber.org/zap"
)

const (
	searchContentRunes    = 300
	summarizeContentRunes = 3000
)

var errEntityNotFound = map[string]string{"error": "entity not found"}

// EntityCatalog 工具使用的实体存储
type EntityCatalog interface {
	Get(ctx context.Context, id string) (*store.Entity, error)
	TagIDs(ctx context.Context, entityID string) ([]string, error)
	List(ctx context.Context, opts store.ListOptions) ([]store.Entity, error)
	Create(ctx context.Context, in store.CreateInput) (*store.Entity, error)
	AddTags(ctx context.Context, entityID string, folderTags, contentTags []string) ([]string, error)
	FolderTags(ctx context.Context) ([]store.FolderTag, error)
	ContentTags(ctx context.Context) ([]store.ContentTag, error)
	StatusDimensions(ctx context.Context) ([]store.StatusDimensionView, error)
	Stats(ctx context.Context) (*store.Stats, error)
}

// RelationFinder 关系查询
type RelationFinder interface {
	Relations(ctx context.Context, title, relType string) ([]store.Relation, error)
}

// Searcher 按模式检索
type Searcher interface {
	Search(ctx context.Context, query string, opts rag.SearchOptions) rag.SearchResult
}

// KnowledgeTools 知识库工具集
type KnowledgeTools struct {
	entities EntityCatalog
	graph    RelationFinder
	searcher Searcher
	indexer  *rag.Indexer
	gateway  llm.Gateway
	logger   *zap.Logger
}

// KnowledgeToolsOption 配置 KnowledgeTools
type KnowledgeToolsOption func(*KnowledgeTools)

// WithIndexer 新建实体后写入向量索引
func WithIndexer(ix *rag.Indexer) KnowledgeToolsOption {
	return func(k *KnowledgeTools) { k.indexer = ix }
}

// WithRelations 启用 query_graph
func WithRelations(g RelationFinder) KnowledgeToolsOption {
	return func(k *KnowledgeTools) { k.graph = g }
}

// NewKnowledgeTools 创建知识库工具集
func NewKnowledgeTools(entities EntityCatalog, searcher Searcher, gateway llm.Gateway,
	logger *zap.Logger, opts ...KnowledgeToolsOption) *KnowledgeTools {
	if logger == nil {
		logger = zap.NewNop()
	}
	k := &KnowledgeTools{
		entities: entities,
		searcher: searcher,
		gateway:  gateway,
		logger:   logger.With(zap.String("component", "knowledge_tools")),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Register 把全部工具注册到 r。timeout 为单个工具的执行超时。
func (k *KnowledgeTools) Register(r *Registry, timeout time.Duration) error {
	writeLimit := &RateLimit{PerSecond: 2, Burst: 5}

	tools := []struct {
		name   string
		desc   string
		params *types.JSONSchema
		fn     ToolFunc
		limit  *RateLimit
	}{
		{
			name: "search_knowledge",
			desc: "Search the knowledge base using semantic vector search plus keyword matching.",
			params: types.NewObjectSchema().
				AddProperty("query", types.NewStringSchema().WithDescription("Search query")).
				AddProperty("top_k", types.NewIntegerSchema().WithDescription("Number of results").WithDefault(5)).
				AddRequired("query"),
			fn: k.searchKnowledge,
		},
		{
			name: "get_entity_detail",
			desc: "Get the full content, metadata and tags of a knowledge entity.",
			params: types.NewObjectSchema().
				AddProperty("entity_id", types.NewStringSchema().WithDescription("Entity ID")).
				AddRequired("entity_id"),
			fn: k.getEntityDetail,
		},
		{
			name: "list_entities",
			desc: "List recently updated knowledge entities, optionally filtered by source or title keyword.",
			params: types.NewObjectSchema().
				AddProperty("source", types.NewStringSchema().WithDescription("Source filter, e.g. obsidian or agent")).
				AddProperty("keyword", types.NewStringSchema().WithDescription("Title keyword")).
				AddProperty("limit", types.NewIntegerSchema().WithDefault(10)),
			fn: k.listEntities,
		},
		{
			name: "query_graph",
			desc: "Query knowledge graph relations of entities whose title contains the given text.",
			params: types.NewObjectSchema().
				AddProperty("entity_title", types.NewStringSchema().WithDescription("Entity title or part of it")).
				AddProperty("relation_type", types.NewStringSchema().WithDescription("Optional relation type filter")).
				AddRequired("entity_title"),
			fn: k.queryGraph,
		},
		{
			name: "list_tags",
			desc: "List the tag system: folder tags, content tags and status dimensions.",
			params: types.NewObjectSchema().
				AddProperty("tag_type", types.NewEnumSchema("folder", "content", "status", "all").WithDefault("all")),
			fn: k.listTags,
		},
		{
			name: "create_entity",
			desc: "Create a new knowledge entity. It starts in pending review.",
			params: types.NewObjectSchema().
				AddProperty("title", types.NewStringSchema()).
				AddProperty("content", types.NewStringSchema().WithDescription("Markdown content")).
				AddProperty("source", types.NewStringSchema().WithDefault("agent")).
				AddRequired("title", "content"),
			fn:    k.createEntity,
			limit: writeLimit,
		},
		{
			name: "update_entity_tags",
			desc: "Attach folder tags and content tags to an entity by tag name.",
			params: types.NewObjectSchema().
				AddProperty("entity_id", types.NewStringSchema()).
				AddProperty("folder_tags", types.NewArraySchema(types.NewStringSchema())).
				AddProperty("content_tags", types.NewArraySchema(types.NewStringSchema())).
				AddRequired("entity_id"),
			fn:    k.updateEntityTags,
			limit: writeLimit,
		},
		{
			name: "summarize_content",
			desc: "Summarize a piece of content in the requested style.",
			params: types.NewObjectSchema().
				AddProperty("content", types.NewStringSchema()).
				AddProperty("style", types.NewEnumSchema("brief", "detailed", "bullet_points").WithDefault("brief")).
				AddRequired("content"),
			fn: k.summarizeContent,
		},
		{
			name:   "get_statistics",
			desc:   "Get knowledge base statistics: totals by source and review status, and the content tag count.",
			params: types.NewObjectSchema(),
			fn:     k.getStatistics,
		},
	}

	for _, t := range tools {
		if t.name == "query_graph" && k.graph == nil {
			continue
		}
		err := r.Register(t.name, Tool{
			Schema: types.ToolSchema{
				Name:        t.name,
				Description: t.desc,
				Parameters:  t.params.Raw(),
			},
			Func:      t.fn,
			Timeout:   timeout,
			RateLimit: t.limit,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// --- 工具实现 ---

type searchItem struct {
	EntityID string  `json:"entity_id"`
	Title    string  `json:"title"`
	Content  string  `json:"content"`
	Source   string  `json:"source"`
	Score    float64 `json:"score,omitempty"`
}

func (k *KnowledgeTools) searchKnowledge(ctx context.Context, args map[string]any) (any, error) {
	query, err := requireString(args, "query")
	if err != nil {
		return nil, err
	}
	topK := intArg(args, "top_k", 5)

	results := []searchItem{}
	seen := map[string]bool{}
	collect := func(hits []rag.Hit) {
		for _, h := range hits {
			if seen[h.EntityID] {
				continue
			}
			seen[h.EntityID] = true
			results = append(results, searchItem{
				EntityID: h.EntityID,
				Title:    h.Title,
				Content:  rag.Clip(h.Snippet, searchContentRunes),
				Source:   h.Source,
				Score:    h.Score,
			})
		}
	}

	vec := k.searcher.Search(ctx, query, rag.SearchOptions{TopK: topK, Mode: rag.ModeVector})
	if vec.VectorErr != nil {
		k.logger.Debug("vector search unavailable for tool", zap.Error(vec.VectorErr))
	}
	collect(vec.Hits)

	lex := k.searcher.Search(ctx, query, rag.SearchOptions{TopK: topK, Mode: rag.ModeMetadata})
	if lex.LexicalErr != nil {
		return nil, fmt.Errorf("keyword search: %w", lex.LexicalErr)
	}
	collect(lex.Hits)

	if len(results) > topK {
		results = results[:topK]
	}
	return map[string]any{"query": query, "count": len(results), "results": results}, nil
}

func (k *KnowledgeTools) getEntityDetail(ctx context.Context, args map[string]any) (any, error) {
	id, err := requireString(args, "entity_id")
	if err != nil {
		return nil, err
	}
	e, err := k.entities.Get(ctx, id)
	if types.IsErrorCode(err, types.ErrNotFound) {
		return errEntityNotFound, nil
	}
	if err != nil {
		return nil, err
	}
	tags, err := k.entities.TagIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	return struct {
		*store.Entity
		Tags []string `json:"tags"`
	}{e, tags}, nil
}

func (k *KnowledgeTools) listEntities(ctx context.Context, args map[string]any) (any, error) {
	rows, err := k.entities.List(ctx, store.ListOptions{
		Source:  stringArg(args, "source"),
		Keyword: stringArg(args, "keyword"),
		Limit:   intArg(args, "limit", 10),
	})
	if err != nil {
		return nil, err
	}

	type item struct {
		ID           string    `json:"id"`
		Title        string    `json:"title"`
		Source       string    `json:"source"`
		ReviewStatus string    `json:"review_status"`
		CreatedAt    time.Time `json:"created_at"`
	}
	out := make([]item, 0, len(rows))
	for _, e := range rows {
		out = append(out, item{e.ID, e.Title, e.Source, e.ReviewStatus, e.CreatedAt})
	}
	return map[string]any{"entities": out}, nil
}

func (k *KnowledgeTools) queryGraph(ctx context.Context, args map[string]any) (any, error) {
	title, err := requireString(args, "entity_title")
	if err != nil {
		return nil, err
	}
	rels, err := k.graph.Relations(ctx, title, stringArg(args, "relation_type"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"entity": title, "relations": rels}, nil
}

func (k *KnowledgeTools) listTags(ctx context.Context, args map[string]any) (any, error) {
	tagType := stringArg(args, "tag_type")
	if tagType == "" {
		tagType = "all"
	}
	want := func(t string) bool { return tagType == t || tagType == "all" }

	out := map[string]any{}
	if want("folder") {
		tags, err := k.entities.FolderTags(ctx)
		if err != nil {
			return nil, err
		}
		out["folder_tags"] = tags
	}
	if want("content") {
		tags, err := k.entities.ContentTags(ctx)
		if err != nil {
			return nil, err
		}
		out["content_tags"] = tags
	}
	if want("status") {
		dims, err := k.entities.StatusDimensions(ctx)
		if err != nil {
			return nil, err
		}
		out["status_dimensions"] = dims
	}
	return out, nil
}

func (k *KnowledgeTools) createEntity(ctx context.Context, args map[string]any) (any, error) {
	title, err := requireString(args, "title")
	if err != nil {
		return nil, err
	}
	source := stringArg(args, "source")
	if source == "" {
		source = "agent"
	}
	e, err := k.entities.Create(ctx, store.CreateInput{
		Title:     title,
		Content:   stringArg(args, "content"),
		Source:    source,
		CreatedBy: "agent",
	})
	if err != nil {
		return nil, err
	}

	if err := k.indexer.Index(ctx, rag.Document{ID: e.ID, Title: e.Title, Content: e.Content, Source: e.Source}); err != nil {
		k.logger.Warn("index new entity failed", zap.String("entity_id", e.ID), zap.Error(err))
	}
	return map[string]any{"entity_id": e.ID, "title": e.Title, "status": "created"}, nil
}

func (k *KnowledgeTools) updateEntityTags(ctx context.Context, args map[string]any) (any, error) {
	id, err := requireString(args, "entity_id")
	if err != nil {
		return nil, err
	}
	added, err := k.entities.AddTags(ctx, id, stringsArg(args, "folder_tags"), stringsArg(args, "content_tags"))
	if types.IsErrorCode(err, types.ErrNotFound) {
		return errEntityNotFound, nil
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"entity_id": id, "tags_added": added}, nil
}

var summaryPrompts = map[string]string{
	"brief":         "Summarize the following content in one or two sentences:",
	"detailed":      "Summarize the key points of the following content in detail:",
	"bullet_points": "Summarize the following content as a bullet point list:",
}

func (k *KnowledgeTools) summarizeContent(ctx context.Context, args map[string]any) (any, error) {
	content, err := requireString(args, "content")
	if err != nil {
		return nil, err
	}
	prompt, ok := summaryPrompts[stringArg(args, "style")]
	if !ok {
		prompt = summaryPrompts["brief"]
	}

	c, err := k.gateway.Complete(ctx, []types.Message{
		types.NewUserMessage(prompt + "\n\n" + rag.Clip(content, summarizeContentRunes)),
	}, llm.Options{Temperature: 0.3, MaxTokens: 1024})
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}
	return map[string]string{"summary": c.Content}, nil
}

func (k *KnowledgeTools) getStatistics(ctx context.Context, _ map[string]any) (any, error) {
	return k.entities.Stats(ctx)
}

// --- 参数解析 ---

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

func requireString(args map[string]any, key string) (string, error) {
	s := stringArg(args, key)
	if s == "" {
		return "", types.NewError(types.ErrToolValidation, key+" is required")
	}
	return s, nil
}

// intArg JSON 数字解码为 float64；缺失或非正数时回退到默认值
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		if v >= 1 {
			return int(v)
		}
	case int:
		if v >= 1 {
			return v
		}
	}
	return def
}

func stringsArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
