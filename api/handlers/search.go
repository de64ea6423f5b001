package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/BaSui01/knowledgeflow/api"
	"github.com/BaSui01/knowledgeflow/rag"
	"github.com/BaSui01/knowledgeflow/types"
	"go.uber.org/zap"
)

const (
	defaultSearchTopK = 10
	maxSearchTopK     = 50
)

// vectorUnavailableMessage 向量检索失败时附带的说明
const vectorUnavailableMessage = "Vector search is unavailable (embedding service or vector index error), showing keyword matches only. " +
	"Check that the LLM gateway is reachable, the vector index is running and approved entities have been embedded."

// Searcher 按模式检索，由 *rag.HybridRetriever 实现
type Searcher interface {
	Search(ctx context.Context, query string, opts rag.SearchOptions) rag.SearchResult
}

// SearchHandler 处理 /api/v1/search
type SearchHandler struct {
	searcher Searcher
	logger   *zap.Logger
}

// NewSearchHandler 创建检索处理器
func NewSearchHandler(searcher Searcher, logger *zap.Logger) *SearchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchHandler{searcher: searcher, logger: logger.With(zap.String("handler", "search"))}
}

// HandleSearch 处理检索请求
// @Summary 知识检索
// @Description 在向量索引与关键词匹配上检索实体，hybrid 模式用 RRF 融合
// @Tags 检索
// @Produce json
// @Param q query string true "查询文本"
// @Param top_k query int false "返回条数（1-50）" default(10)
// @Param source query string false "按来源过滤"
// @Param mode query string false "vector、metadata 或 hybrid" default(hybrid)
// @Success 200 {object} api.SearchResponse "检索结果"
// @Failure 400 {object} Response "无效请求"
// @Failure 503 {object} Response "检索不可用"
// @Router /api/v1/search [get]
func (h *SearchHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}

	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		WriteError(w, types.NewInvalidRequestError("q is required"), h.logger)
		return
	}

	topK, perr := queryInt(r, "top_k", defaultSearchTopK, 1, maxSearchTopK)
	if perr != nil {
		WriteError(w, perr, h.logger)
		return
	}

	mode, ok := rag.ParseSearchMode(q.Get("mode"))
	if !ok {
		WriteError(w, types.NewInvalidRequestError("mode must be one of vector, metadata, hybrid"), h.logger)
		return
	}

	res := h.searcher.Search(r.Context(), query, rag.SearchOptions{
		TopK:   topK,
		Mode:   mode,
		Filter: rag.Filter{Source: strings.TrimSpace(q.Get("source"))},
	})

	// 关键词检索是唯一来源或两侧都失败时无法降级
	lexicalRequired := mode == rag.ModeMetadata || (mode == rag.ModeHybrid && res.VectorErr != nil)
	if res.LexicalErr != nil && lexicalRequired {
		WriteError(w, types.NewError(types.ErrStoreUnavailable, "search is unavailable").
			WithCause(res.LexicalErr).
			WithRetryable(true), h.logger)
		return
	}

	resp := api.SearchResponse{
		Query:   query,
		Mode:    string(mode),
		Count:   len(res.Hits),
		Results: res.Hits,
	}
	if resp.Results == nil {
		resp.Results = []rag.Hit{}
	}
	if res.VectorErr != nil {
		resp.Message = vectorUnavailableMessage
	}
	WriteSuccess(w, resp)
}
