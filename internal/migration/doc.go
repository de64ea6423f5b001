// Copyright (c) KnowledgeFlow Authors.
// Licensed under the MIT License.

/*
包 migration 管理知识库的数据库 Schema，支持 PostgreSQL、MySQL 与
SQLite，基于 golang-migrate 实现。

# 概述

各方言的 SQL 迁移文件通过 embed.FS 内嵌在二进制中：

  - 000001_knowledge_schema：实体、版本、标签树、内容标签、状态维度、
    实体标签关联与实体关系。
  - 000002_conversations：会话与消息（sql 会话后端）。
  - 000003_entity_embeddings：仅 PostgreSQL，pgvector 向量表。

SQLite 迁移使用 golang-migrate 的 sqlite3 驱动（mattn/go-sqlite3，需要 CGO）。
应用侧的 gorm 连接使用 glebarez 纯 Go 驱动，两者注册的驱动名不同，可以共存。

# 核心类型

  - Catalog：列出某方言内嵌的迁移，要求 up/down 成对。
  - Migrator：Up/Down/Reset/Goto/Force/Version/State/Close，ctx 取消时
    在当前迁移完成后停止，golang-migrate 的日志转给 zap。
  - Console：执行 Command 并输出版本与状态表，供 knowledgeflow migrate 使用。
  - FromConfig / FromURL：从应用配置或连接串创建迁移器。
*/
package migration
