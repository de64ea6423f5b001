package rag

import (
	"iter"
	"unicode/utf8"
)

// DefaultChunkSize 模拟流式输出时每个片段的字符数
const DefaultChunkSize = 20

// StreamTokens 将完整回答切分为 size 个字符一段的序列，最后一段可能更短。
// 空回答产出一个空串，保证消费者至少收到一次 token 事件。
// size <= 0 时使用 DefaultChunkSize。序列可重复遍历，拼接结果等于原文。
func StreamTokens(answer string, size int) iter.Seq[string] {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return func(yield func(string) bool) {
		if answer == "" {
			yield("")
			return
		}
		rest := answer
		for rest != "" {
			end, n := 0, 0
			for end < len(rest) && n < size {
				_, w := utf8.DecodeRuneInString(rest[end:])
				end += w
				n++
			}
			if !yield(rest[:end]) {
				return
			}
			rest = rest[end:]
		}
	}
}
