// Copyright (c) KnowledgeFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 KnowledgeFlow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 llm、rag、agent、chat、
api 等上层模块提供统一的类型契约，以避免循环依赖。

# 核心类型

  - Message / HistoryTurn — 对话消息与只读历史轮次
  - ToolCall / ToolSchema / ToolResult — 工具调用契约
  - Outcome[T]            — JSON 边界上的判别结果（Ok / MalformedInput / DependencyError）
  - Error / ErrorCode     — 结构化错误体系，含 HTTP 状态码与 Retryable 标记
  - JSONSchema            — 工具参数的 JSON Schema 构建器

# 主要能力

  - Context 传播：WithTraceID / WithUserID / WithConversationID
  - 错误工具链：AsError / IsErrorCode / IsRetryable / GetErrorCode
  - 参数解析：DecodeArguments 将畸形参数降级为 MalformedInput
*/
package types
