package chat

import (
	"encoding/json"

	"github.com/BaSui01/knowledgeflow/agent"
	"github.com/BaSui01/knowledgeflow/rag"
	"github.com/BaSui01/knowledgeflow/types"
)

// EventType 流式事件类型
type EventType string

const (
	EventStart    EventType = "start"
	EventToolCall EventType = "tool_call"
	EventToken    EventType = "token"
	EventSources  EventType = "sources"
	EventDone     EventType = "done"
	EventError    EventType = "error"
)

// Event 流式输出的单个事件，SSE 与 WebSocket 共用同一 JSON 形态
type Event struct {
	Type           EventType       `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Tool           string          `json:"tool,omitempty"`
	Arguments      map[string]any  `json:"arguments,omitempty"`
	Content        string          `json:"content,omitempty"`
	Sources        []rag.SourceRef `json:"sources,omitempty"`
	MessageID      string          `json:"message_id,omitempty"`
	Error          string          `json:"error,omitempty"`
	Code           types.ErrorCode `json:"code,omitempty"`
}

// MarshalJSON 按事件类型输出固定字段：token 总带 content，sources 总带 sources，
// tool_call 总带 arguments，空值也不省略
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventToken:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Content string    `json:"content"`
		}{e.Type, e.Content})
	case EventSources:
		sources := e.Sources
		if sources == nil {
			sources = []rag.SourceRef{}
		}
		return json.Marshal(struct {
			Type    EventType       `json:"type"`
			Sources []rag.SourceRef `json:"sources"`
		}{e.Type, sources})
	case EventToolCall:
		args := e.Arguments
		if args == nil {
			args = map[string]any{}
		}
		return json.Marshal(struct {
			Type      EventType      `json:"type"`
			Tool      string         `json:"tool"`
			Arguments map[string]any `json:"arguments"`
		}{e.Type, e.Tool, args})
	}
	type plain Event
	return json.Marshal(plain(e))
}

func startEvent(conversationID string) Event {
	return Event{Type: EventStart, ConversationID: conversationID}
}

func toolCallEvent(inv agent.ToolInvocation) Event {
	return Event{Type: EventToolCall, Tool: inv.Tool, Arguments: inv.Arguments}
}

func tokenEvent(content string) Event {
	return Event{Type: EventToken, Content: content}
}

func sourcesEvent(sources []rag.SourceRef) Event {
	return Event{Type: EventSources, Sources: sources}
}

func doneEvent(messageID string) Event {
	return Event{Type: EventDone, MessageID: messageID}
}

func errorEvent(err error) Event {
	code := types.GetErrorCode(err)
	if code == "" {
		code = types.ErrInternalError
	}
	return Event{Type: EventError, Error: err.Error(), Code: code}
}
