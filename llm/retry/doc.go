// Package retry 提供泛型的指数退避重试，供 LLM 网关包装 Complete/Embed 调用。
// 默认只重试 types.Error.Retryable 为 true 的错误（429、5xx、网络错误）。
package retry
