// Package config 提供 KnowledgeFlow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → .env 文件 → 环境变量 的顺序叠加，
// 环境变量统一使用 KNOWLEDGEFLOW_ 前缀，嵌套字段以下划线连接，
// 例如 KNOWLEDGEFLOW_RETRIEVAL_TOP_K。
package config
