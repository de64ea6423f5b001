package chat

import (
	"encoding/json"
	"testing"

	"github.com/BaSui01/knowledgeflow/rag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_MarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want string
	}{
		{"empty token keeps content", tokenEvent(""), `{"type":"token","content":""}`},
		{"token", tokenEvent("Q3 "), `{"type":"token","content":"Q3 "}`},
		{"no sources keeps array", sourcesEvent(nil), `{"type":"sources","sources":[]}`},
		{"sources", sourcesEvent([]rag.SourceRef{{Index: 1, EntityID: "e1", Title: "Roadmap"}}),
			`{"type":"sources","sources":[{"index":1,"entity_id":"e1","title":"Roadmap","source":""}]}`},
		{"tool call without arguments", Event{Type: EventToolCall, Tool: "get_statistics"},
			`{"type":"tool_call","tool":"get_statistics","arguments":{}}`},
		{"start", startEvent("conv-1"), `{"type":"start","conversation_id":"conv-1"}`},
		{"done", doneEvent("msg-1"), `{"type":"done","message_id":"msg-1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(tt.ev)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(raw))
		})
	}
}
