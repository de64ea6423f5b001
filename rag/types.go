package rag

import (
	"context"
	"time"
	"unicode/utf8"
)

// MatchKind 命中来源
type MatchKind string

const (
	MatchVector  MatchKind = "vector"
	MatchLexical MatchKind = "lexical"
)

// Query 一轮检索使用的查询。Rewritten 默认等于 Raw，
// 仅在存在历史且改写成功时替换。
type Query struct {
	Raw       string `json:"raw"`
	Rewritten string `json:"rewritten"`
}

// Hit 融合后的单条检索结果，Score 由排名推导
type Hit struct {
	EntityID  string    `json:"entity_id"`
	Title     string    `json:"title"`
	Snippet   string    `json:"snippet"`
	Source    string    `json:"source"`
	Score     float64   `json:"score"`
	MatchKind MatchKind `json:"match_kind"`
}

// SourceRef 回答中 [source N] 引用的实体
type SourceRef struct {
	Index    int    `json:"index"`
	EntityID string `json:"entity_id"`
	Title    string `json:"title"`
	Source   string `json:"source"`
}

// Context 单轮 RAG 的全部状态，只属于创建它的那一轮
type Context struct {
	Query          string      `json:"query"`
	RewrittenQuery string      `json:"rewritten_query"`
	Results        []Hit       `json:"results"`
	GraphContext   string      `json:"graph_context,omitempty"`
	Answer         string      `json:"answer"`
	Sources        []SourceRef `json:"sources"`
	PromptTokens   int         `json:"prompt_tokens,omitempty"`
}

// Document 词法检索与实体查询返回的实体摘要
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VectorMatch 向量索引返回的候选
type VectorMatch struct {
	EntityID string  `json:"entity_id"`
	Score    float64 `json:"score"`
	Preview  string  `json:"preview,omitempty"`
	Source   string  `json:"source,omitempty"`
}

// VectorRecord 写入向量索引的一条记录
type VectorRecord struct {
	EntityID  string
	Embedding []float32
	Preview   string
	Source    string
}

// Filter 检索过滤条件，零值表示不过滤
type Filter struct {
	Source string `json:"source,omitempty"`
}

// VectorIndex 向量相似度检索
type VectorIndex interface {
	Search(ctx context.Context, vec []float32, topK int, filter Filter) ([]VectorMatch, error)
}

// VectorWriter 向量写入，由 Indexer 使用
type VectorWriter interface {
	Upsert(ctx context.Context, rec VectorRecord) error
	Delete(ctx context.Context, entityID string) error
}

// LexicalStore 标题/正文关键词检索，按更新时间倒序
type LexicalStore interface {
	SearchLexical(ctx context.Context, text string, topK int, filter Filter) ([]Document, error)
}

// EntityLookup 按 ID 批量读取实体，缺失的 ID 不出现在结果中
type EntityLookup interface {
	LookupEntities(ctx context.Context, ids []string) (map[string]Document, error)
}

// GraphStore 关系图遍历，返回文本形式的关系摘要，无结果时为空串
type GraphStore interface {
	Traverse(ctx context.Context, seed string) (string, error)
}

// Clip 按 rune 截断，不切断多字节字符
func Clip(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
