/*
Package main 提供 KnowledgeFlow 服务端程序入口。

# 概述

cmd/knowledgeflow 是对话式检索服务的可执行入口，提供 HTTP API 服务、
数据库迁移、健康检查和版本查询等子命令。启动时按配置连接关系库、
Redis、向量后端（Milvus 或 pgvector）与 LLM 网关，组装 RAG 管线、
Agent 工具集与会话服务。

# 核心类型

  - Server         — 主服务器，持有全部组件并管理 API、Metrics 双端口
  - Middleware     — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - statusRecorder — 记录状态码，透传 Flush（SSE）与 Hijack（WebSocket）

# 主要能力

  - 子命令：serve、migrate、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、
    MetricsMiddleware、RequestLogger、CORS、Auth（API Key 或 JWT）、RateLimiter
  - 依赖降级：Redis 不可用时无缓存运行，向量后端不可用时只走关键词检索
  - 就绪检查：数据库、Redis、MongoDB、Milvus 与 LLM 网关
  - 优雅关闭：信号监听 → 关闭监听 → 释放 Mongo、Redis、连接池 → 刷新遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
