package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/knowledgeflow/internal/metrics"
	"github.com/BaSui01/knowledgeflow/internal/telemetry"
	"github.com/BaSui01/knowledgeflow/llm"
	"github.com/BaSui01/knowledgeflow/llm/tokenizer"
	"github.com/BaSui01/knowledgeflow/types"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	blockRunes   = 600
	noContent    = "(no relevant content found)"
	answerPrompt = `You are a personal knowledge-base assistant that helps the user find and understand their own notes.

Rules:
1. Answer only from the reference material provided. Do not invent information.
2. Cite sources with the [source N] format.
3. If the material is not sufficient to answer, say so honestly.
4. Reply in the same language as the user's question, concisely and clearly.
5. If the question is unrelated to the knowledge base, point that out politely.`
)

// Assembler 将检索结果渲染为提示词并生成带引用的回答
type Assembler struct {
	gateway   llm.Gateway
	tokenizer tokenizer.Tokenizer
	budget    int
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// NewAssembler 创建组装器。budget 为参考资料部分的 token 上限，<=0 表示不限。
func NewAssembler(gateway llm.Gateway, tk tokenizer.Tokenizer, budget int, collector *metrics.Collector, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tk == nil {
		tk = tokenizer.NewEstimator()
	}
	return &Assembler{
		gateway:   gateway,
		tokenizer: tk,
		budget:    budget,
		metrics:   collector,
		logger:    logger.With(zap.String("component", "context_assembler")),
	}
}

// Render 渲染参考资料。每条结果一段 "[source N] title\ncontent"，内容截断到 600 字符；
// 超出预算时丢弃排名靠后的段落。返回的 sources 只包含实际渲染的段落。
func (a *Assembler) Render(results []Hit, graphContext string) (string, []SourceRef, int) {
	parts := make([]string, 0, len(results)+1)
	sources := make([]SourceRef, 0, len(results))
	used := 0

	if graphContext != "" {
		used += a.tokenizer.Count(graphContext)
	}

	for i, h := range results {
		block := fmt.Sprintf("[source %d] %s\n%s", i+1, h.Title, Clip(h.Snippet, blockRunes))
		n := a.tokenizer.Count(block)
		if a.budget > 0 && used+n > a.budget && len(parts) > 0 {
			a.logger.Debug("context budget reached, dropping lower-ranked blocks",
				zap.Int("kept", len(parts)),
				zap.Int("dropped", len(results)-i),
				zap.Int("budget", a.budget),
			)
			break
		}
		used += n
		parts = append(parts, block)
		sources = append(sources, SourceRef{
			Index:    i + 1,
			EntityID: h.EntityID,
			Title:    h.Title,
			Source:   h.Source,
		})
	}

	if graphContext != "" {
		parts = append(parts, graphContext)
	}
	if len(parts) == 0 {
		return noContent, sources, a.tokenizer.Count(noContent)
	}
	return strings.Join(parts, "\n\n"), sources, used
}

// Generate 基于 rc.Results 与 rc.GraphContext 生成回答，写入 rc.Answer 与 rc.Sources。
// 网关失败时回答替换为错误说明，Sources 保留。
func (a *Assembler) Generate(ctx context.Context, rc *Context) {
	ctx, span := telemetry.StartSpan(ctx, "rag.generate", attribute.Int("rag.results", len(rc.Results)))
	defer span.End()

	material, sources, _ := a.Render(rc.Results, rc.GraphContext)
	rc.Sources = sources

	messages := []types.Message{
		types.NewSystemMessage(answerPrompt),
		types.NewUserMessage(fmt.Sprintf("Reference material:\n%s\n\nUser question: %s", material, rc.Query)),
	}
	rc.PromptTokens = a.tokenizer.Count(answerPrompt) + a.tokenizer.Count(messages[1].Content)
	a.metrics.RecordPromptTokens(rc.PromptTokens)
	span.SetAttributes(
		attribute.Int("rag.prompt_tokens", rc.PromptTokens),
		attribute.Int("rag.sources", len(sources)),
	)

	completion, err := a.gateway.Complete(ctx, messages, llm.Options{Temperature: 0.3, MaxTokens: 2048})
	if err != nil {
		a.logger.Error("answer generation failed", zap.Error(err))
		span.RecordError(err)
		rc.Answer = fmt.Sprintf("Error generating answer: %v", err)
		return
	}
	rc.Answer = completion.Content
}
