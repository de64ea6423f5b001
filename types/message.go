package types

import (
	"encoding/json"
	"time"
)

// Role represents the role of a message participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ParseRole maps a stored role string onto a Role. Unknown values read as user.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleSystem, RoleAssistant, RoleTool:
		return Role(s)
	default:
		return RoleUser
	}
}

// ToolCall represents a tool invocation request from the LLM.
// RawArguments keeps the argument string exactly as the model produced it,
// so the call is echoed back unchanged even when it is not valid JSON.
type ToolCall struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Arguments    json.RawMessage `json:"arguments"`
	RawArguments string          `json:"-"`
}

// Message is one entry of a transcript sent to the completion gateway.
// Assistant messages may carry ToolCalls; tool messages answer one call via ToolCallID.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Timestamp  time.Time  `json:"timestamp,omitempty"`
}

// HistoryTurn is a prior conversation turn supplied read-only to a new turn.
type HistoryTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewMessage creates a new message with the given role and content.
func NewMessage(role Role, content string) Message {
	return Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return NewMessage(RoleSystem, content)
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return NewMessage(RoleAssistant, content)
}

// NewToolMessage creates a new tool result message.
func NewToolMessage(toolCallID, name, content string) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		Name:       name,
		ToolCallID: toolCallID,
		Timestamp:  time.Now(),
	}
}

// WithToolCalls adds tool calls to the message.
func (m Message) WithToolCalls(calls []ToolCall) Message {
	m.ToolCalls = calls
	return m
}

// HasToolCalls reports whether the model asked for tools.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// HistoryMessages converts the tail of history (at most limit turns) into transcript messages.
func HistoryMessages(history []HistoryTurn, limit int) []Message {
	history = TailTurns(history, limit)
	msgs := make([]Message, 0, len(history))
	for _, h := range history {
		msgs = append(msgs, Message{Role: h.Role, Content: h.Content})
	}
	return msgs
}

// TailTurns returns the last n turns. n <= 0 returns all of them.
func TailTurns(history []HistoryTurn, n int) []HistoryTurn {
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
