// =============================================================================
// 📦 测试数据工厂 - 补全结果测试数据
// =============================================================================
// 提供预定义的 llm.Completion，用于脚本化网关
// =============================================================================
package fixtures

import (
	"github.com/BaSui01/knowledgeflow/llm"
	"github.com/BaSui01/knowledgeflow/types"
)

// =============================================================================
// 🎯 Completion 工厂
// =============================================================================

// SimpleCompletion 返回简单的文本回答
func SimpleCompletion(content string) *llm.Completion {
	return &llm.Completion{
		Content:      content,
		FinishReason: "stop",
		Model:        "gpt-4o-mini",
		Usage: llm.Usage{
			PromptTokens:     10,
			CompletionTokens: 20,
			TotalTokens:      30,
		},
	}
}

// CompletionWithUsage 返回带自定义 Token 用量的回答
func CompletionWithUsage(content string, promptTokens, completionTokens int) *llm.Completion {
	c := SimpleCompletion(content)
	c.Usage = llm.Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}
	return c
}

// ToolCallCompletion 返回请求工具调用的助手消息
func ToolCallCompletion(calls ...types.ToolCall) *llm.Completion {
	return &llm.Completion{
		ToolCalls:    calls,
		FinishReason: "tool_calls",
		Model:        "gpt-4o-mini",
	}
}

// RewriteCompletion 改写器返回的查询，带首尾空白以覆盖裁剪逻辑
func RewriteCompletion(query string) *llm.Completion {
	return SimpleCompletion("  " + query + "\n")
}
