// Package tokenizer 为上下文组装提供 token 计数。
// New 优先使用 tiktoken 精确计数，编码表不可用时降级为 CJK 感知的估算器。
package tokenizer
