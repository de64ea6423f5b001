/*
Package handlers 提供 KnowledgeFlow HTTP API 的请求处理器实现。

# 概述

handlers 包实现对话、会话管理、检索、Agent 工具目录与健康检查端点，
以及统一的响应/错误处理。所有 Handler 均遵循标准 net/http 接口，
通过 Swagger 注解生成 API 文档。

# 核心类型

  - ChatHandler         — 对话处理器，支持 JSON、SSE 与 WebSocket
  - ConversationHandler — 会话列表、创建、删除与消息查询
  - SearchHandler       — vector / metadata / hybrid 检索
  - AgentHandler        — Agent 工具目录
  - HealthHandler       — 服务健康检查（/health, /healthz, /ready）
  - Response            — 统一 JSON 响应结构（success + data + error + timestamp）

# 流式协议

SSE 每个事件一行 `data: {json}`，以 `data: [DONE]` 结束；WebSocket 每个事件一个文本帧。
事件顺序为 start、tool_call（agent 模式）、token、sources（rag 模式）、done。
请求校验失败时 SSE 端点返回普通 JSON 错误，WebSocket 回复 error 事件并保持连接。
*/
package handlers
