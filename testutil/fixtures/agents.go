// =============================================================================
// 📦 测试数据工厂 - Agent 与会话测试数据
// =============================================================================
// 提供工具调用与历史对话，用于测试
// =============================================================================
package fixtures

import (
	"encoding/json"
	"fmt"

	"github.com/BaSui01/knowledgeflow/types"
)

// =============================================================================
// 🔧 ToolCall 工厂
// =============================================================================

// ToolCall 构造工具调用，args 序列化为 JSON
func ToolCall(id, name string, args any) types.ToolCall {
	raw, err := json.Marshal(args)
	if err != nil {
		panic(fmt.Sprintf("fixtures: marshal tool args: %v", err))
	}
	return types.ToolCall{ID: id, Name: name, Arguments: raw}
}

// RawToolCall 构造参数未经校验的工具调用，用于畸形参数场景
func RawToolCall(id, name, raw string) types.ToolCall {
	return types.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(raw)}
}

// SearchCall search_knowledge 调用
func SearchCall(id, query string) types.ToolCall {
	return ToolCall(id, "search_knowledge", map[string]any{"query": query})
}

// =============================================================================
// 💬 历史对话工厂
// =============================================================================

// Turns 交替生成 user/assistant 历史，共 n 条
func Turns(n int) []types.HistoryTurn {
	turns := make([]types.HistoryTurn, 0, n)
	for i := 0; i < n; i++ {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		turns = append(turns, types.HistoryTurn{Role: role, Content: fmt.Sprintf("turn %d", i)})
	}
	return turns
}

// RoadmapHistory 代词指代场景：上一轮讨论了 Q3 路线图
func RoadmapHistory() []types.HistoryTurn {
	return []types.HistoryTurn{
		{Role: types.RoleUser, Content: "What is on the Q3 roadmap?"},
		{Role: types.RoleAssistant, Content: "The Q3 roadmap covers the search rewrite and the billing migration."},
	}
}
