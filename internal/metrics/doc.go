// Copyright (c) KnowledgeFlow Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖 HTTP、
Gateway、检索、Agent、缓存与数据库六个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制。所有指标按 namespace 隔离。nil Collector 可安全调用。

# 主要能力

  - HTTP 指标：请求总数、请求耗时，状态码归类为 2xx/3xx/4xx/5xx。
  - Gateway 指标：complete/embed/probe 调用次数、耗时与 token 用量。
  - 检索指标：RAG 轮次结果、各检索源成功/失败与命中数、提示词 token 数。
  - Agent 指标：终止状态、迭代次数、工具调用次数与耗时。
  - 缓存与数据库指标：命中/未命中、连接数、查询耗时。
*/
package metrics
