// Copyright (c) KnowledgeFlow Authors.
// Licensed under the MIT License.

/*
包 cache 提供基于 Redis 的缓存管理能力，支持连接池、健康检查、
键前缀与 JSON 序列化。

# 概述

本包封装 go-redis 客户端。Manager 负责连接生命周期管理，包括初始化、
健康检查与优雅关闭。查询改写结果与 Gateway 可用性探测结果都缓存在这里；
缓存失败从不影响调用方的主流程。

# 主要能力

  - Get / Set / GetJSON / SetJSON / Delete，未命中返回 ErrCacheMiss
  - HashKey：将长文本（对话历史 + 查询）散列为定长键
  - WithMetrics：按键命名空间记录命中与未命中
*/
package cache
