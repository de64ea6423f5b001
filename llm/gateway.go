package llm

import (
	"context"
	"time"

	"github.com/BaSui01/knowledgeflow/types"
)

// Gateway 嵌入与补全的统一入口。所有调用都可能失败，调用方负责降级。
type Gateway interface {
	// Embed 返回文本的向量表示
	Embed(ctx context.Context, text string) ([]float32, error)
	// Complete 发送对话并返回助手消息
	Complete(ctx context.Context, messages []types.Message, opts Options) (*Completion, error)
	// Available 报告网关当前是否可用（已配置且上游可达）
	Available(ctx context.Context) bool
}

// ToolChoice 工具选择策略
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceNone     = "none"
	ToolChoiceRequired = "required"
)

// Options 单次补全调用的采样参数
type Options struct {
	Model          string             `json:"model,omitempty"`
	Temperature    float32            `json:"temperature"`
	MaxTokens      int                `json:"max_tokens,omitempty"`
	Tools          []types.ToolSchema `json:"tools,omitempty"`
	ToolChoice     string             `json:"tool_choice,omitempty"`
	ResponseFormat string             `json:"response_format,omitempty"` // "json_object" 或空
	Timeout        time.Duration      `json:"-"`
}

// Usage token 用量
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion 补全结果
type Completion struct {
	Content      string           `json:"content"`
	ToolCalls    []types.ToolCall `json:"tool_calls,omitempty"`
	FinishReason string           `json:"finish_reason,omitempty"`
	Model        string           `json:"model,omitempty"`
	Usage        Usage            `json:"usage"`
}

// Message 将结果转换为可追加到对话记录的助手消息
func (c *Completion) Message() types.Message {
	return types.NewAssistantMessage(c.Content).WithToolCalls(c.ToolCalls)
}

// HasToolCalls 模型是否请求了工具调用
func (c *Completion) HasToolCalls() bool {
	return len(c.ToolCalls) > 0
}
