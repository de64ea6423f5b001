package rag

import (
	"context"
	"strings"
	"time"

	"github.com/BaSui01/knowledgeflow/internal/metrics"
	"github.com/BaSui01/knowledgeflow/internal/telemetry"
	"github.com/BaSui01/knowledgeflow/llm"
	"github.com/BaSui01/knowledgeflow/types"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// UnavailableAnswer 网关不可用时的固定回答
const UnavailableAnswer = "LLM service unavailable, cannot generate an answer. Please check the LLM API configuration."

const (
	graphSeedRunes      = 50
	defaultGraphTimeout = 5 * time.Second
)

// Pipeline 串联改写、混合检索、图谱补充与回答生成
type Pipeline struct {
	gateway   llm.Gateway
	rewriter  *Rewriter
	retriever *HybridRetriever
	graph     GraphStore
	graphWait time.Duration
	assembler *Assembler
	topK      int
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// PipelineOption 配置 Pipeline
type PipelineOption func(*Pipeline)

// WithGraph 启用图谱关系补充
func WithGraph(g GraphStore) PipelineOption {
	return func(p *Pipeline) { p.graph = g }
}

// WithGraphTimeout 设置图谱查询超时
func WithGraphTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if d > 0 {
			p.graphWait = d
		}
	}
}

// WithDefaultTopK 设置调用方未指定 topK 时的默认值
func WithDefaultTopK(k int) PipelineOption {
	return func(p *Pipeline) {
		if k > 0 {
			p.topK = k
		}
	}
}

// WithPipelineMetrics 记录每轮结果
func WithPipelineMetrics(c *metrics.Collector) PipelineOption {
	return func(p *Pipeline) { p.metrics = c }
}

// NewPipeline 创建 RAG 管线
func NewPipeline(gateway llm.Gateway, rewriter *Rewriter, retriever *HybridRetriever, assembler *Assembler,
	logger *zap.Logger, opts ...PipelineOption) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		gateway:   gateway,
		rewriter:  rewriter,
		retriever: retriever,
		assembler: assembler,
		topK:      5,
		graphWait: defaultGraphTimeout,
		logger:    logger.With(zap.String("component", "rag_pipeline")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run 执行一轮 RAG。只有调用方误用（空查询）时返回错误，依赖故障都在阶段内降级。
func (p *Pipeline) Run(ctx context.Context, query string, history []types.HistoryTurn, topK int) (*Context, error) {
	if strings.TrimSpace(query) == "" {
		return nil, types.NewInvalidRequestError("query must not be empty")
	}
	if topK <= 0 {
		topK = p.topK
	}

	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "rag.run",
		attribute.Int("rag.top_k", topK),
		attribute.Int("rag.history", len(history)),
	)
	defer span.End()

	rc := &Context{
		Query:          query,
		RewrittenQuery: query,
		Results:        []Hit{},
		Sources:        []SourceRef{},
	}

	if !p.gateway.Available(ctx) {
		p.logger.Warn("gateway unavailable, skipping retrieval")
		rc.Answer = UnavailableAnswer
		p.metrics.RecordRAGTurn("unavailable", time.Since(start))
		return rc, nil
	}

	rc.RewrittenQuery = p.rewriter.Rewrite(ctx, query, history).Rewritten
	rc.Results = p.retriever.Retrieve(ctx, rc.RewrittenQuery, topK, Filter{})

	if p.graph != nil {
		rc.GraphContext = p.graphFacts(ctx, rc.RewrittenQuery)
	}

	if err := ctx.Err(); err != nil {
		rc.Answer = "Request canceled before an answer was generated."
		p.metrics.RecordRAGTurn("canceled", time.Since(start))
		return rc, nil
	}

	p.assembler.Generate(ctx, rc)

	outcome := "answered"
	if len(rc.Results) == 0 {
		outcome = "no_results"
	}
	p.metrics.RecordRAGTurn(outcome, time.Since(start))
	p.logger.Debug("rag turn finished",
		zap.String("rewritten_query", rc.RewrittenQuery),
		zap.Int("results", len(rc.Results)),
		zap.Int("sources", len(rc.Sources)),
		zap.Duration("duration", time.Since(start)),
	)
	return rc, nil
}

// graphFacts 在独立超时内查询图谱，失败返回空串
func (p *Pipeline) graphFacts(ctx context.Context, query string) string {
	ctx, cancel := context.WithTimeout(ctx, p.graphWait)
	defer cancel()

	facts, err := p.graph.Traverse(ctx, Clip(query, graphSeedRunes))
	if err != nil {
		p.logger.Warn("graph traversal failed", zap.Error(err))
		return ""
	}
	return facts
}
