package api

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/knowledgeflow/agent"
	"github.com/BaSui01/knowledgeflow/rag"
	"github.com/BaSui01/knowledgeflow/store"
)

// =============================================================================
// 对话类型
// =============================================================================

// ChatRequest 代表一轮对话请求。
// @Description 对话请求结构
type ChatRequest struct {
	// 用户消息
	Message string `json:"message" example:"What is on the Q3 roadmap?" binding:"required"`
	// 会话 ID，为空时新建会话
	ConversationID string `json:"conversation_id,omitempty" example:"5f0c6a7e-2b1d-4c1e-9a57-0f3c2d8e1b4a"`
	// 是否流式返回（/chat/send 忽略此字段）
	Stream bool `json:"stream,omitempty" example:"false"`
	// 回答模式（rag、agent）
	Mode string `json:"mode,omitempty" example:"rag"`
	// 检索条数，仅 rag 模式使用
	TopK int `json:"top_k,omitempty" example:"5"`
}

// ChatResponse 表示一轮对话的完整回答。
// @Description 对话响应结构
type ChatResponse struct {
	// 会话 ID
	ConversationID string `json:"conversation_id" example:"5f0c6a7e-2b1d-4c1e-9a57-0f3c2d8e1b4a"`
	// 助手消息 ID
	MessageID string `json:"message_id" example:"0b7d1f3e-8a42-4c55-b0a3-6d9e2f1c7a88"`
	// 回答文本
	Answer string `json:"answer" example:"The Q3 roadmap has two items [source 1]."`
	// 引用来源（rag 模式）
	Sources []rag.SourceRef `json:"sources"`
	// 工具调用日志（agent 模式）
	ToolCalls []agent.ToolInvocation `json:"tool_calls"`
}

// =============================================================================
// 会话类型
// =============================================================================

// CreateConversationRequest 表示新建会话请求。
// @Description 新建会话请求
type CreateConversationRequest struct {
	// 会话标题，为空时使用默认标题
	Title string `json:"title,omitempty" example:"Q3 planning"`
}

// CreateConversationResponse 表示新建会话结果。
// @Description 新建会话响应
type CreateConversationResponse struct {
	// 会话 ID
	ID string `json:"id" example:"5f0c6a7e-2b1d-4c1e-9a57-0f3c2d8e1b4a"`
	// 会话标题
	Title string `json:"title" example:"Q3 planning"`
}

// ConversationListResponse 表示会话列表。
// @Description 会话列表响应
type ConversationListResponse struct {
	// 会话列表，按更新时间倒序
	Conversations []store.Conversation `json:"conversations"`
}

// DeleteConversationResponse 表示删除结果。
// @Description 删除会话响应
type DeleteConversationResponse struct {
	// 是否已删除
	Deleted bool `json:"deleted" example:"true"`
}

// =============================================================================
// 检索类型
// =============================================================================

// SearchResponse 表示检索结果。
// @Description 检索响应结构
type SearchResponse struct {
	// 查询文本
	Query string `json:"query" example:"roadmap"`
	// 检索模式（vector、metadata、hybrid）
	Mode string `json:"mode" example:"hybrid"`
	// 结果数量
	Count int `json:"count" example:"2"`
	// 检索结果
	Results []rag.Hit `json:"results"`
	// 降级说明，例如向量检索失败
	Message string `json:"message,omitempty" example:"vector search unavailable, showing metadata results only"`
}

// =============================================================================
// 工具类型
// =============================================================================

// ToolSchema 描述 agent 模式可用的工具。
// @Description 工具架构结构
type ToolSchema struct {
	// 工具名称
	Name string `json:"name" example:"search_knowledge"`
	// 工具说明
	Description string `json:"description" example:"Search the knowledge base"`
	// 参数的 JSON Schema
	Parameters json.RawMessage `json:"parameters"`
}

// ToolListResponse 表示工具列表。
// @Description 工具列表响应
type ToolListResponse struct {
	// 工具清单
	Tools []ToolSchema `json:"tools"`
}

// =============================================================================
// 健康检查类型
// =============================================================================

// ServiceHealthResponse 表示服务健康状态。
// @Description 服务健康状态
type ServiceHealthResponse struct {
	// 状态（healthy、unhealthy）
	Status string `json:"status" example:"healthy"`
	// 检查时间
	Timestamp time.Time `json:"timestamp"`
	// 服务版本
	Version string `json:"version,omitempty" example:"1.0.0"`
	// 各依赖的检查结果
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 表示单个依赖的检查结果。
// @Description 依赖检查结果
type CheckResult struct {
	// 结果（pass、fail）
	Status string `json:"status" example:"pass"`
	// 失败原因
	Message string `json:"message,omitempty"`
	// 检查耗时
	Latency string `json:"latency,omitempty" example:"3ms"`
}

// =============================================================================
// 错误类型
// =============================================================================

// ErrorResponse表示错误响应。
// @Description 错误响应结构
type ErrorResponse struct {
	// 错误详情
	Error ErrorDetail `json:"error"`
}

// ErrorDetail 表示错误详细信息。
// @Description 错误详细结构
type ErrorDetail struct {
	// 错误代码
	Code string `json:"code" example:"INVALID_REQUEST"`
	// 人类可读的错误消息
	Message string `json:"message" example:"message must not be empty"`
	// 请求是否可以重试
	Retryable bool `json:"retryable,omitempty" example:"false"`
}
