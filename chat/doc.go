/*
Package chat 编排一轮对话：会话落库、历史窗口、rag/agent 两种回答模式与事件流。

[Service.Send] 返回完整回答；[Service.Stream] 返回 iter.Seq[Event]，事件顺序为

	start → tool_call* → token+ → sources? → done

tool_call 只在 agent 模式出现，sources 只在 rag 模式出现。用户消息在生成回答前落库，
历史取最近 20 条（不含本轮消息）；助手消息连同 sources 或 tool_calls 的 JSON 一起保存。
*/
package chat
