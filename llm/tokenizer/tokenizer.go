package tokenizer

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Tokenizer 统一的 token 计数接口，用于上下文预算控制
type Tokenizer interface {
	// Count 返回文本的 token 数
	Count(text string) int
	// Name 返回分词器名称
	Name() string
}

// New 返回模型对应的分词器：优先 tiktoken，编码表无法加载时
// （例如离线环境）自动降级为估算器
func New(model string, logger *zap.Logger) Tokenizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &fallback{
		primary:  NewTiktoken(model),
		fallback: NewEstimator(),
		logger:   logger.With(zap.String("component", "tokenizer"), zap.String("model", model)),
	}
}

type fallback struct {
	primary  *Tiktoken
	fallback *Estimator
	logger   *zap.Logger
	warnOnce sync.Once
}

func (f *fallback) Count(text string) int {
	n, err := f.primary.CountTokens(text)
	if err != nil {
		f.warnOnce.Do(func() {
			f.logger.Warn("tiktoken unavailable, using estimator", zap.Error(err))
		})
		return f.fallback.Count(text)
	}
	return n
}

func (f *fallback) Name() string {
	if _, err := f.primary.CountTokens(""); err != nil {
		return f.fallback.Name()
	}
	return f.primary.Name()
}

// modelEncodings 模型名前缀到 tiktoken 编码的映射，按最长前缀优先匹配
var modelEncodings = map[string]string{
	"gpt-4o":                 "o200k_base",
	"gpt-4.1":                "o200k_base",
	"o1":                     "o200k_base",
	"o3":                     "o200k_base",
	"gpt-4":                  "cl100k_base",
	"gpt-3.5-turbo":          "cl100k_base",
	"text-embedding-3-large": "cl100k_base",
	"text-embedding-3-small": "cl100k_base",
	"text-embedding-ada-002": "cl100k_base",
}

// EncodingFor 返回模型使用的编码名，未知模型默认 cl100k_base
func EncodingFor(model string) string {
	best := ""
	for prefix := range modelEncodings {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return "cl100k_base"
	}
	return modelEncodings[best]
}
