package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/knowledgeflow/api"
	"github.com/BaSui01/knowledgeflow/chat"
	"github.com/BaSui01/knowledgeflow/rag"
	"github.com/BaSui01/knowledgeflow/types"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 模拟对话服务
// =============================================================================

type mockChatService struct {
	sendFunc   func(ctx context.Context, req chat.Request) (*chat.Response, error)
	streamFunc func(ctx context.Context, req chat.Request) (iter.Seq[chat.Event], error)
	lastReq    chat.Request
}

func (m *mockChatService) Send(ctx context.Context, req chat.Request) (*chat.Response, error) {
	m.lastReq = req
	if m.sendFunc != nil {
		return m.sendFunc(ctx, req)
	}
	return nil, errors.New("not implemented")
}

func (m *mockChatService) Stream(ctx context.Context, req chat.Request) (iter.Seq[chat.Event], error) {
	m.lastReq = req
	if m.streamFunc != nil {
		return m.streamFunc(ctx, req)
	}
	return nil, errors.New("not implemented")
}

func ragEvents(answer string) iter.Seq[chat.Event] {
	return func(yield func(chat.Event) bool) {
		if !yield(chat.Event{Type: chat.EventStart, ConversationID: "conv-1"}) {
			return
		}
		for chunk := range rag.StreamTokens(answer, 5) {
			if !yield(chat.Event{Type: chat.EventToken, Content: chunk}) {
				return
			}
		}
		if !yield(chat.Event{Type: chat.EventSources, Sources: []rag.SourceRef{{Index: 1, EntityID: "e1", Title: "Q3 Roadmap"}}}) {
			return
		}
		yield(chat.Event{Type: chat.EventDone, MessageID: "msg-1"})
	}
}

func validationError(_ context.Context, req chat.Request) (iter.Seq[chat.Event], error) {
	return nil, types.NewInvalidRequestError("message must not be empty")
}

// readSSE 解析 SSE 响应体中的 data 行
func readSSE(t *testing.T, body string) ([]chat.Event, bool) {
	t.Helper()
	var (
		events []chat.Event
		done   bool
	)
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			done = true
			continue
		}
		var ev chat.Event
		require.NoError(t, json.Unmarshal([]byte(payload), &ev))
		events = append(events, ev)
	}
	return events, done
}

// =============================================================================
// 🧪 ChatHandler 测试
// =============================================================================

func TestChatHandler_HandleSend(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		contentType    string
		sendFunc       func(ctx context.Context, req chat.Request) (*chat.Response, error)
		expectedStatus int
		checkResponse  func(*testing.T, *Response)
	}{
		{
			name:        "successful rag turn",
			body:        `{"message":"What is on the Q3 roadmap?","top_k":3}`,
			contentType: "application/json",
			sendFunc: func(ctx context.Context, req chat.Request) (*chat.Response, error) {
				return &chat.Response{
					ConversationID: "conv-1",
					MessageID:      "msg-1",
					Answer:         "Two items [source 1].",
					Sources:        []rag.SourceRef{{Index: 1, EntityID: "e1", Title: "Q3 Roadmap"}},
				}, nil
			},
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, resp *Response) {
				assert.True(t, resp.Success)
				raw, err := json.Marshal(resp.Data)
				require.NoError(t, err)
				var data api.ChatResponse
				require.NoError(t, json.Unmarshal(raw, &data))
				assert.Equal(t, "conv-1", data.ConversationID)
				assert.Equal(t, "Two items [source 1].", data.Answer)
				require.Len(t, data.Sources, 1)
				assert.Equal(t, "e1", data.Sources[0].EntityID)
			},
		},
		{
			name:        "empty message",
			body:        `{"message":""}`,
			contentType: "application/json",
			sendFunc: func(ctx context.Context, req chat.Request) (*chat.Response, error) {
				return nil, types.NewInvalidRequestError("message must not be empty")
			},
			expectedStatus: http.StatusBadRequest,
			checkResponse: func(t *testing.T, resp *Response) {
				assert.False(t, resp.Success)
				assert.Equal(t, string(types.ErrInvalidRequest), resp.Error.Code)
			},
		},
		{
			name:        "missing conversation",
			body:        `{"message":"hi","conversation_id":"gone"}`,
			contentType: "application/json",
			sendFunc: func(ctx context.Context, req chat.Request) (*chat.Response, error) {
				return nil, types.NewNotFoundError("conversation not found")
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "wrong content type",
			body:           `{"message":"hi"}`,
			contentType:    "text/plain",
			expectedStatus: http.StatusUnsupportedMediaType,
		},
		{
			name:           "unknown field",
			body:           `{"message":"hi","model":"gpt-4"}`,
			contentType:    "application/json",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:        "internal failure hides cause",
			body:        `{"message":"hi"}`,
			contentType: "application/json",
			sendFunc: func(ctx context.Context, req chat.Request) (*chat.Response, error) {
				return nil, errors.New("database is locked")
			},
			expectedStatus: http.StatusInternalServerError,
			checkResponse: func(t *testing.T, resp *Response) {
				assert.Equal(t, "internal error", resp.Error.Message)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockChatService{sendFunc: tt.sendFunc}
			handler := NewChatHandler(svc, nil, zap.NewNop())

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/api/v1/chat/send", bytes.NewBufferString(tt.body))
			r.Header.Set("Content-Type", tt.contentType)

			handler.HandleSend(w, r)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.checkResponse != nil {
				var resp Response
				require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
				tt.checkResponse(t, &resp)
			}
		})
	}
}

func TestChatHandler_HandleSendPassesRequest(t *testing.T) {
	svc := &mockChatService{sendFunc: func(ctx context.Context, req chat.Request) (*chat.Response, error) {
		return &chat.Response{ConversationID: "c"}, nil
	}}
	handler := NewChatHandler(svc, nil, zap.NewNop())

	body := `{"message":"hi","conversation_id":"c","mode":"agent","top_k":7}`
	r := httptest.NewRequest(http.MethodPost, "/api/v1/chat/send", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json; charset=utf-8")
	handler.HandleSend(httptest.NewRecorder(), r)

	assert.Equal(t, chat.Request{Message: "hi", ConversationID: "c", Mode: "agent", TopK: 7}, svc.lastReq)
}

func TestChatHandler_HandleStream(t *testing.T) {
	svc := &mockChatService{streamFunc: func(ctx context.Context, req chat.Request) (iter.Seq[chat.Event], error) {
		return ragEvents("The roadmap has two items."), nil
	}}
	handler := NewChatHandler(svc, nil, zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/chat/stream", strings.NewReader(`{"message":"roadmap?"}`))
	r.Header.Set("Content-Type", "application/json")

	handler.HandleStream(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))

	events, done := readSSE(t, w.Body.String())
	assert.True(t, done)
	require.GreaterOrEqual(t, len(events), 4)
	assert.Equal(t, chat.EventStart, events[0].Type)
	assert.Equal(t, "conv-1", events[0].ConversationID)

	var answer strings.Builder
	for _, ev := range events {
		if ev.Type == chat.EventToken {
			answer.WriteString(ev.Content)
		}
	}
	assert.Equal(t, "The roadmap has two items.", answer.String())
	assert.Equal(t, chat.EventSources, events[len(events)-2].Type)
	assert.Equal(t, chat.EventDone, events[len(events)-1].Type)
	assert.Equal(t, "msg-1", events[len(events)-1].MessageID)
	assert.True(t, strings.HasSuffix(w.Body.String(), "data: [DONE]\n\n"))
}

func TestChatHandler_HandleStreamValidationError(t *testing.T) {
	handler := NewChatHandler(&mockChatService{streamFunc: validationError}, nil, zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/chat/stream", strings.NewReader(`{"message":""}`))
	r.Header.Set("Content-Type", "application/json")

	handler.HandleStream(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
}

func TestChatHandler_HandleStreamEscapesContent(t *testing.T) {
	svc := &mockChatService{streamFunc: func(ctx context.Context, req chat.Request) (iter.Seq[chat.Event], error) {
		return func(yield func(chat.Event) bool) {
			yield(chat.Event{Type: chat.EventToken, Content: "line one\n\ndata: injected"})
		}, nil
	}}
	handler := NewChatHandler(svc, nil, zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/chat/stream", strings.NewReader(`{"message":"x"}`))
	r.Header.Set("Content-Type", "application/json")
	handler.HandleStream(w, r)

	events, done := readSSE(t, w.Body.String())
	assert.True(t, done)
	require.Len(t, events, 1)
	assert.Equal(t, "line one\n\ndata: injected", events[0].Content)
}

func TestChatHandler_HandleStreamEmptyAnswerPayload(t *testing.T) {
	svc := &mockChatService{streamFunc: func(ctx context.Context, req chat.Request) (iter.Seq[chat.Event], error) {
		return func(yield func(chat.Event) bool) {
			if !yield(chat.Event{Type: chat.EventStart, ConversationID: "conv-1"}) {
				return
			}
			for chunk := range rag.StreamTokens("", 20) {
				if !yield(chat.Event{Type: chat.EventToken, Content: chunk}) {
					return
				}
			}
			if !yield(chat.Event{Type: chat.EventSources}) {
				return
			}
			yield(chat.Event{Type: chat.EventDone, MessageID: "msg-1"})
		}, nil
	}}
	handler := NewChatHandler(svc, nil, zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/chat/stream", strings.NewReader(`{"message":"x"}`))
	r.Header.Set("Content-Type", "application/json")
	handler.HandleStream(w, r)

	var payloads []map[string]json.RawMessage
	sc := bufio.NewScanner(strings.NewReader(w.Body.String()))
	for sc.Scan() {
		payload, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok || payload == "[DONE]" {
			continue
		}
		var m map[string]json.RawMessage
		require.NoError(t, json.Unmarshal([]byte(payload), &m))
		payloads = append(payloads, m)
	}

	require.Len(t, payloads, 4)
	assert.Equal(t, `"token"`, string(payloads[1]["type"]))
	assert.Equal(t, `""`, string(payloads[1]["content"]))
	assert.Equal(t, `"sources"`, string(payloads[2]["type"]))
	assert.Equal(t, `[]`, string(payloads[2]["sources"]))
}

func TestChatHandler_HandleWebSocket(t *testing.T) {
	svc := &mockChatService{streamFunc: func(ctx context.Context, req chat.Request) (iter.Seq[chat.Event], error) {
		if strings.TrimSpace(req.Message) == "" {
			return nil, types.NewInvalidRequestError("message must not be empty")
		}
		return ragEvents("hello world"), nil
	}}
	handler := NewChatHandler(svc, nil, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	read := func() chat.Event {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var ev chat.Event
		require.NoError(t, json.Unmarshal(data, &ev))
		return ev
	}

	// 非法帧与校验失败都只回复 error 事件，连接保持可用
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("{not json")))
	ev := read()
	assert.Equal(t, chat.EventError, ev.Type)
	assert.Equal(t, types.ErrInvalidRequest, ev.Code)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"message":""}`)))
	ev = read()
	assert.Equal(t, chat.EventError, ev.Type)
	assert.Equal(t, "message must not be empty", ev.Error)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"message":"hi"}`)))
	var kinds []chat.EventType
	var answer strings.Builder
	for {
		ev := read()
		kinds = append(kinds, ev.Type)
		answer.WriteString(ev.Content)
		if ev.Type == chat.EventDone {
			break
		}
	}
	assert.Equal(t, chat.EventStart, kinds[0])
	assert.Equal(t, chat.EventSources, kinds[len(kinds)-2])
	assert.Equal(t, "hello world", answer.String())
}
