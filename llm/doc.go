/*
Package llm 提供嵌入与补全的统一网关。

# 概述

[Gateway] 是检索管线与 Agent 循环访问模型服务的唯一入口：

  - Embed：查询文本向量化，供向量检索使用
  - Complete：对话补全，支持工具调用（function calling）
  - Available：可用性探测，结果按 TTL 缓存

[OpenAIGateway] 基于 OpenAI 兼容的 HTTP 协议实现 Gateway，可对接
OpenAI、DeepSeek、Qwen 等兼容服务。调用经过令牌桶限流与指数退避重试
（仅重试 429、5xx 与网络错误），上游错误通过 [MapHTTPError] 映射为
types.Error。

# 子包

  - retry：泛型指数退避重试
  - tokenizer：tiktoken 计数与估算器降级
*/
package llm
