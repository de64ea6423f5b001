package rag

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/BaSui01/knowledgeflow/internal/metrics"
	"github.com/BaSui01/knowledgeflow/internal/telemetry"
	"github.com/BaSui01/knowledgeflow/llm"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultRRFK RRF 平滑常数
const DefaultRRFK = 60

const snippetRunes = 500

// SearchMode 检索模式
type SearchMode string

const (
	ModeHybrid   SearchMode = "hybrid"
	ModeVector   SearchMode = "vector"
	ModeMetadata SearchMode = "metadata"
)

// ParseSearchMode 解析检索模式，空串视为 hybrid
func ParseSearchMode(s string) (SearchMode, bool) {
	switch SearchMode(s) {
	case "", ModeHybrid:
		return ModeHybrid, true
	case ModeVector, ModeMetadata:
		return SearchMode(s), true
	default:
		return "", false
	}
}

// SearchOptions 单次检索参数
type SearchOptions struct {
	TopK   int
	Mode   SearchMode
	Filter Filter
}

// SearchResult 检索结果。源失败时对应错误非空，但 Hits 仍包含其余源的结果。
type SearchResult struct {
	Hits       []Hit
	VectorErr  error
	LexicalErr error
}

// FuseRRF 用倒数排名融合合并多路有序结果：第 r 名（从 0 开始）得分 1/(k+r+1)，
// 同一实体的得分相加，保留最先出现的那条；按分数降序稳定排序后截断到 topK。
func FuseRRF(k, topK int, lists ...[]Hit) []Hit {
	fused := make([]Hit, 0)
	index := make(map[string]int)

	for _, list := range lists {
		for rank, h := range list {
			score := 1.0 / float64(k+rank+1)
			if i, ok := index[h.EntityID]; ok {
				fused[i].Score += score
				continue
			}
			h.Score = score
			index[h.EntityID] = len(fused)
			fused = append(fused, h)
		}
	}

	slices.SortStableFunc(fused, func(a, b Hit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})

	if topK >= 0 && len(fused) > topK {
		fused = fused[:topK]
	}
	return fused
}

// HybridRetriever 并发查询向量索引与词法存储，并用 RRF 融合
type HybridRetriever struct {
	gateway llm.Gateway
	vector  VectorIndex
	lexical LexicalStore
	lookup  EntityLookup

	rrfK           int
	vectorTimeout  time.Duration
	lexicalTimeout time.Duration

	metrics *metrics.Collector
	logger  *zap.Logger
}

// RetrieverConfig HybridRetriever 配置
type RetrieverConfig struct {
	RRFK           int
	VectorTimeout  time.Duration
	LexicalTimeout time.Duration
}

// NewHybridRetriever 创建混合检索器。vector 为 nil 时只走词法检索。
func NewHybridRetriever(gateway llm.Gateway, vector VectorIndex, lexical LexicalStore, lookup EntityLookup,
	cfg RetrieverConfig, collector *metrics.Collector, logger *zap.Logger) *HybridRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = DefaultRRFK
	}
	if cfg.VectorTimeout <= 0 {
		cfg.VectorTimeout = 10 * time.Second
	}
	if cfg.LexicalTimeout <= 0 {
		cfg.LexicalTimeout = 5 * time.Second
	}
	return &HybridRetriever{
		gateway:        gateway,
		vector:         vector,
		lexical:        lexical,
		lookup:         lookup,
		rrfK:           cfg.RRFK,
		vectorTimeout:  cfg.VectorTimeout,
		lexicalTimeout: cfg.LexicalTimeout,
		metrics:        collector,
		logger:         logger.With(zap.String("component", "hybrid_retriever")),
	}
}

// Retrieve 混合检索，源失败时降级，从不返回错误
func (r *HybridRetriever) Retrieve(ctx context.Context, query string, topK int, filter Filter) []Hit {
	return r.Search(ctx, query, SearchOptions{TopK: topK, Mode: ModeHybrid, Filter: filter}).Hits
}

// Search 按模式检索。向量侧请求 2×topK 个候选，词法侧请求 topK 个。
func (r *HybridRetriever) Search(ctx context.Context, query string, opts SearchOptions) SearchResult {
	if opts.TopK <= 0 {
		return SearchResult{Hits: []Hit{}}
	}
	if opts.Mode == "" {
		opts.Mode = ModeHybrid
	}

	ctx, span := telemetry.StartSpan(ctx, "rag.retrieve",
		attribute.String("rag.mode", string(opts.Mode)),
		attribute.Int("rag.top_k", opts.TopK),
	)
	defer span.End()

	var (
		vectorHits, lexicalHits []Hit
		res                     SearchResult
	)

	g, gctx := errgroup.WithContext(ctx)
	if opts.Mode != ModeMetadata {
		g.Go(func() error {
			vctx, cancel := context.WithTimeout(gctx, r.vectorTimeout)
			defer cancel()
			vectorHits, res.VectorErr = r.searchVector(vctx, query, opts.TopK*2, opts.Filter)
			r.metrics.RecordRetrievalSource("vector", len(vectorHits), res.VectorErr)
			if res.VectorErr != nil {
				r.logger.Warn("vector search failed", zap.Error(res.VectorErr))
			}
			return nil
		})
	}
	if opts.Mode != ModeVector {
		g.Go(func() error {
			lctx, cancel := context.WithTimeout(gctx, r.lexicalTimeout)
			defer cancel()
			lexicalHits, res.LexicalErr = r.searchLexical(lctx, query, opts.TopK, opts.Filter)
			r.metrics.RecordRetrievalSource("lexical", len(lexicalHits), res.LexicalErr)
			if res.LexicalErr != nil {
				r.logger.Warn("lexical search failed", zap.Error(res.LexicalErr))
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Hits = FuseRRF(r.rrfK, opts.TopK, vectorHits, lexicalHits)
	span.SetAttributes(
		attribute.Int("rag.vector_hits", len(vectorHits)),
		attribute.Int("rag.lexical_hits", len(lexicalHits)),
		attribute.Int("rag.fused_hits", len(res.Hits)),
	)
	return res
}

func (r *HybridRetriever) searchVector(ctx context.Context, query string, limit int, filter Filter) ([]Hit, error) {
	if r.vector == nil {
		return nil, fmt.Errorf("vector index is not configured")
	}
	if r.gateway == nil {
		return nil, fmt.Errorf("embedding gateway is not configured")
	}

	vec, err := r.gateway.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := r.vector.Search(ctx, vec, limit, filter)
	if err != nil {
		return nil, fmt.Errorf("vector index search: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	var docs map[string]Document
	if r.lookup != nil {
		ids := make([]string, 0, len(matches))
		for _, m := range matches {
			ids = append(ids, m.EntityID)
		}
		docs, err = r.lookup.LookupEntities(ctx, ids)
		if err != nil {
			// 保留未补全的命中
			r.logger.Warn("entity lookup failed", zap.Error(err))
		}
	}

	hits := make([]Hit, 0, len(matches))
	for _, m := range matches {
		h := Hit{EntityID: m.EntityID, Source: m.Source, MatchKind: MatchVector}
		if doc, ok := docs[m.EntityID]; ok {
			h.Title = doc.Title
			h.Snippet = Clip(CleanText(doc.Content), snippetRunes)
			h.Source = doc.Source
		}
		hits = append(hits, h)
	}
	return hits, nil
}

func (r *HybridRetriever) searchLexical(ctx context.Context, query string, limit int, filter Filter) ([]Hit, error) {
	if r.lexical == nil {
		return nil, fmt.Errorf("lexical store is not configured")
	}
	docs, err := r.lexical.SearchLexical(ctx, query, limit, filter)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(docs))
	for _, d := range docs {
		hits = append(hits, Hit{
			EntityID:  d.ID,
			Title:     d.Title,
			Snippet:   Clip(CleanText(d.Content), snippetRunes),
			Source:    d.Source,
			MatchKind: MatchLexical,
		})
	}
	return hits, nil
}
