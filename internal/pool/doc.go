// Package pool 提供固定并发度的任务池，用于批量向量化等需要限制
// 对外部服务并发压力的后台任务。
package pool
