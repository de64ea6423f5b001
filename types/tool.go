package types

import (
	"encoding/json"
	"time"
)

// ToolSchema defines a tool's interface for LLM function calling.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolResult represents the result of a tool execution.
type ToolResult struct {
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name"`
	Result     json.RawMessage `json:"result"`
	Error      string          `json:"error,omitempty"`
	Duration   time.Duration   `json:"duration"`
}

// Payload returns the JSON fed back to the model. Failures become {"error": "..."}
// so the model sees them exactly like any other tool output.
func (tr ToolResult) Payload() string {
	if tr.Error != "" {
		b, _ := json.Marshal(map[string]string{"error": tr.Error})
		return string(b)
	}
	if len(tr.Result) == 0 {
		return "null"
	}
	return string(tr.Result)
}

// ToMessage converts ToolResult to a Message.
func (tr ToolResult) ToMessage() Message {
	return NewToolMessage(tr.ToolCallID, tr.Name, tr.Payload())
}

// IsError returns true if the tool execution failed.
func (tr ToolResult) IsError() bool {
	return tr.Error != ""
}
