package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/knowledgeflow/internal/cache"
	"github.com/BaSui01/knowledgeflow/internal/metrics"
	"github.com/BaSui01/knowledgeflow/llm"
	"github.com/BaSui01/knowledgeflow/types"
	"go.uber.org/zap"
)

const (
	rewriteHistoryTurns = 6
	rewriteTurnRunes    = 200
	rewriteInstruction  = "You rewrite follow-up questions. Using the conversation history, rewrite the user's latest " +
		"question into a self-contained query. If the question is already self-contained, return it unchanged. " +
		"Output only the rewritten query."
)

// KVCache 字符串键值缓存，*cache.Manager 满足该接口
type KVCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// Rewriter 结合对话历史把追问改写为独立查询。失败时回退到原始查询，从不报错。
type Rewriter struct {
	gateway llm.Gateway
	cache   KVCache
	ttl     time.Duration
	metrics *metrics.Collector
	logger  *zap.Logger
}

// RewriterOption 配置 Rewriter
type RewriterOption func(*Rewriter)

// WithRewriteCache 缓存成功的改写结果
func WithRewriteCache(c KVCache, ttl time.Duration) RewriterOption {
	return func(r *Rewriter) {
		r.cache = c
		r.ttl = ttl
	}
}

// WithRewriterMetrics 记录缓存命中率
func WithRewriterMetrics(c *metrics.Collector) RewriterOption {
	return func(r *Rewriter) { r.metrics = c }
}

// NewRewriter 创建改写器
func NewRewriter(gateway llm.Gateway, logger *zap.Logger, opts ...RewriterOption) *Rewriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Rewriter{
		gateway: gateway,
		logger:  logger.With(zap.String("component", "query_rewriter")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rewrite 返回改写后的查询。history 为空时原样返回且不调用网关。
func (r *Rewriter) Rewrite(ctx context.Context, query string, history []types.HistoryTurn) Query {
	q := Query{Raw: query, Rewritten: query}
	if len(history) == 0 || strings.TrimSpace(query) == "" {
		return q
	}

	historyText := renderHistory(history)
	key := cache.HashKey("rewrite", historyText, query)

	if r.cache != nil {
		if cached, err := r.cache.Get(ctx, key); err == nil && cached != "" {
			r.metrics.RecordCacheHit("rewrite")
			q.Rewritten = cached
			return q
		}
		r.metrics.RecordCacheMiss("rewrite")
	}

	completion, err := r.gateway.Complete(ctx, []types.Message{
		types.NewSystemMessage(rewriteInstruction),
		types.NewUserMessage(fmt.Sprintf("Conversation history:\n%s\n\nLatest question: %s\n\nRewritten query:", historyText, query)),
	}, llm.Options{Temperature: 0.1, MaxTokens: 256})
	if err != nil {
		r.logger.Warn("query rewrite failed, using raw query", zap.Error(err))
		return q
	}

	rewritten := strings.TrimSpace(completion.Content)
	if rewritten == "" {
		return q
	}
	q.Rewritten = rewritten
	r.logger.Debug("query rewritten", zap.String("raw", query), zap.String("rewritten", rewritten))

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, rewritten, r.ttl); err != nil {
			r.logger.Debug("failed to cache rewrite", zap.Error(err))
		}
	}
	return q
}

func renderHistory(history []types.HistoryTurn) string {
	recent := types.TailTurns(history, rewriteHistoryTurns)
	lines := make([]string, 0, len(recent))
	for _, turn := range recent {
		role := "user"
		if turn.Role == types.RoleAssistant {
			role = "assistant"
		}
		lines = append(lines, role+": "+Clip(turn.Content, rewriteTurnRunes))
	}
	return strings.Join(lines, "\n")
}
