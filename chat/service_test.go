package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/knowledgeflow/agent"
	"github.com/BaSui01/knowledgeflow/config"
	"github.com/BaSui01/knowledgeflow/rag"
	"github.com/BaSui01/knowledgeflow/store"
	"github.com/BaSui01/knowledgeflow/testutil"
	"github.com/BaSui01/knowledgeflow/testutil/fixtures"
	"github.com/BaSui01/knowledgeflow/testutil/mocks"
	"github.com/BaSui01/knowledgeflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// stubAnswerer 记录每次调用的历史，返回固定回答
type stubAnswerer struct {
	mu      sync.Mutex
	answer  string
	sources []rag.SourceRef
	err     error
	calls   []answererCall
}

type answererCall struct {
	query   string
	history []types.HistoryTurn
	topK    int
}

func (a *stubAnswerer) Run(_ context.Context, query string, history []types.HistoryTurn, topK int) (*rag.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, answererCall{query: query, history: history, topK: topK})
	if a.err != nil {
		return nil, a.err
	}
	return &rag.Context{Query: query, RewrittenQuery: query, Answer: a.answer, Sources: a.sources}, nil
}

func (a *stubAnswerer) lastCall(t *testing.T) answererCall {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	require.NotEmpty(t, a.calls)
	return a.calls[len(a.calls)-1]
}

func roadmapSources() []rag.SourceRef {
	return []rag.SourceRef{
		{Index: 1, EntityID: "e1", Title: "Q3 Roadmap", Source: "obsidian"},
		{Index: 2, EntityID: "e2", Title: "Q3 Planning Notes", Source: "notion"},
	}
}

func newTestService(t *testing.T, answerer Answerer, opts ...Option) (*Service, *store.SQLConversationStore) {
	t.Helper()
	convs := store.NewSQLConversationStore(testutil.NewSQLiteDB(t), nil, zaptest.NewLogger(t))
	return NewService(convs, answerer, config.DefaultChatConfig(), zaptest.NewLogger(t), opts...), convs
}

func newTestAgent(t *testing.T, gw *mocks.MockGateway, tools ...*mocks.MockTool) *agent.Runner {
	t.Helper()
	reg := agent.NewRegistry(nil, zaptest.NewLogger(t))
	for _, mt := range tools {
		require.NoError(t, reg.Register(mt.Name(), agent.Tool{Schema: mt.Schema(), Func: agent.ToolFunc(mt.Func())}))
	}
	return agent.NewRunner(gw, reg, config.DefaultAgentConfig(), nil, zaptest.NewLogger(t))
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "", want: ModeRAG},
		{in: "rag", want: ModeRAG},
		{in: " Agent ", want: ModeAgent},
		{in: "workflow", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestService_SendCreatesConversation(t *testing.T) {
	answerer := &stubAnswerer{answer: "The Q3 roadmap has two items [source 1].", sources: roadmapSources()}
	svc, convs := newTestService(t, answerer)
	ctx := context.Background()

	message := "What is on the Q3 roadmap for the platform team this quarter, in detail?"
	resp, err := svc.Send(ctx, Request{Message: message, TopK: 3})
	require.NoError(t, err)
	require.NotEmpty(t, resp.ConversationID)
	require.NotEmpty(t, resp.MessageID)
	assert.Equal(t, answerer.answer, resp.Answer)
	assert.Equal(t, roadmapSources(), resp.Sources)
	assert.NotNil(t, resp.ToolCalls)
	assert.Empty(t, resp.ToolCalls)

	call := answerer.lastCall(t)
	assert.Equal(t, message, call.query)
	assert.Empty(t, call.history)
	assert.Equal(t, 3, call.topK)

	conv, err := convs.GetConversation(ctx, resp.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, rag.Clip(message, 50), conv.Title)

	msgs, err := svc.Messages(ctx, resp.ConversationID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, message, msgs[0].Content)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, resp.MessageID, msgs[1].ID)
	assert.Equal(t, roadmapSources(), msgs[1].Sources)
	assert.Nil(t, msgs[1].ToolCalls)
}

func TestService_SendHistoryExcludesCurrentMessage(t *testing.T) {
	answerer := &stubAnswerer{answer: "ok"}
	svc, convs := newTestService(t, answerer)
	ctx := context.Background()

	conv, err := convs.CreateConversation(ctx, "roadmap")
	require.NoError(t, err)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 24; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		require.NoError(t, convs.AddMessage(ctx, &store.Message{
			ConversationID: conv.ID,
			Role:           role,
			Content:        fmt.Sprintf("turn %d", i),
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}))
	}

	_, err = svc.Send(ctx, Request{Message: "and the budget?", ConversationID: conv.ID})
	require.NoError(t, err)

	call := answerer.lastCall(t)
	require.Len(t, call.history, 20)
	assert.Equal(t, "turn 4", call.history[0].Content)
	assert.Equal(t, types.RoleUser, call.history[0].Role)
	assert.Equal(t, "turn 23", call.history[19].Content)
	assert.Equal(t, types.RoleAssistant, call.history[19].Role)
	for _, h := range call.history {
		assert.NotEqual(t, "and the budget?", h.Content)
	}
}

func TestService_SendValidation(t *testing.T) {
	svc, _ := newTestService(t, &stubAnswerer{answer: "ok"})
	ctx := context.Background()

	_, err := svc.Send(ctx, Request{Message: "   "})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	_, err = svc.Send(ctx, Request{Message: "hi", Mode: "workflow"})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	_, err = svc.Send(ctx, Request{Message: "hi", ConversationID: "missing"})
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))

	_, err = svc.Send(ctx, Request{Message: "hi", Mode: "agent"})
	assert.True(t, types.IsErrorCode(err, types.ErrServiceUnavailable))

	convs, err := svc.ListConversations(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestService_SendAnswererError(t *testing.T) {
	svc, _ := newTestService(t, &stubAnswerer{err: types.NewInvalidRequestError("query must not be empty")})

	_, err := svc.Send(context.Background(), Request{Message: "hi"})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestService_SendAgentMode(t *testing.T) {
	search := mocks.NewMockTool("search_knowledge").WithResult(map[string]any{"count": 1})
	gw := mocks.NewMockGateway().
		WithToolCalls(fixtures.SearchCall("c1", "Q3 roadmap")).
		WithResponse("Two items are planned.")
	svc, _ := newTestService(t, &stubAnswerer{}, WithAgent(newTestAgent(t, gw, search)))
	ctx := context.Background()

	resp, err := svc.Send(ctx, Request{Message: "What is planned for Q3?", Mode: "agent"})
	require.NoError(t, err)
	assert.Equal(t, "Two items are planned.", resp.Answer)
	assert.Empty(t, resp.Sources)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "search_knowledge", resp.ToolCalls[0].Tool)
	assert.Equal(t, "Q3 roadmap", resp.ToolCalls[0].Arguments["query"])

	msgs, err := svc.Messages(ctx, resp.ConversationID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, "search_knowledge", msgs[1].ToolCalls[0].Tool)
	assert.JSONEq(t, `{"count":1}`, msgs[1].ToolCalls[0].ResultPreview)
	assert.Nil(t, msgs[1].Sources)
}

func TestService_StreamRAG(t *testing.T) {
	answer := strings.Repeat("roadmap ", 6)
	svc, _ := newTestService(t, &stubAnswerer{answer: answer, sources: roadmapSources()})

	events, err := svc.Stream(context.Background(), Request{Message: "Q3 roadmap?"})
	require.NoError(t, err)
	got := testutil.Collect(events)

	require.GreaterOrEqual(t, len(got), 4)
	assert.Equal(t, EventStart, got[0].Type)
	assert.NotEmpty(t, got[0].ConversationID)

	var tokens strings.Builder
	tokenCount := 0
	for _, ev := range got[1 : len(got)-2] {
		require.Equal(t, EventToken, ev.Type)
		tokens.WriteString(ev.Content)
		tokenCount++
	}
	assert.Equal(t, answer, tokens.String())
	assert.Equal(t, 3, tokenCount)

	assert.Equal(t, EventSources, got[len(got)-2].Type)
	assert.Equal(t, roadmapSources(), got[len(got)-2].Sources)
	assert.Equal(t, EventDone, got[len(got)-1].Type)
	assert.NotEmpty(t, got[len(got)-1].MessageID)
}

func TestService_StreamAgent(t *testing.T) {
	gw := mocks.NewMockGateway().
		WithToolCalls(fixtures.SearchCall("c1", "budget"), fixtures.ToolCall("c2", "list_tags", map[string]any{})).
		WithResponse("Done.")
	runner := newTestAgent(t, gw, mocks.NewMockTool("search_knowledge"), mocks.NewMockTool("list_tags"))
	svc, _ := newTestService(t, &stubAnswerer{}, WithAgent(runner), WithChunkSize(2))

	events, err := svc.Stream(context.Background(), Request{Message: "budget?", Mode: "agent"})
	require.NoError(t, err)
	got := testutil.Collect(events)

	kinds := make([]EventType, 0, len(got))
	for _, ev := range got {
		kinds = append(kinds, ev.Type)
	}
	assert.Equal(t, []EventType{
		EventStart, EventToolCall, EventToolCall, EventToken, EventToken, EventToken, EventDone,
	}, kinds)
	assert.Equal(t, "search_knowledge", got[1].Tool)
	assert.Equal(t, "budget", got[1].Arguments["query"])
	assert.Equal(t, "list_tags", got[2].Tool)
}

func TestService_StreamStopsWhenConsumerStops(t *testing.T) {
	svc, convs := newTestService(t, &stubAnswerer{answer: strings.Repeat("x", 200)})
	ctx := context.Background()

	events, err := svc.Stream(ctx, Request{Message: "hi"})
	require.NoError(t, err)

	var conversationID string
	seen := 0
	for ev := range events {
		seen++
		if ev.Type == EventStart {
			conversationID = ev.ConversationID
		}
		if ev.Type == EventToken {
			break
		}
	}
	assert.Equal(t, 2, seen)

	// 回答在产出 token 之前已经落库
	msgs, err := convs.Messages(ctx, conversationID, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestService_StreamValidationFailsEagerly(t *testing.T) {
	svc, _ := newTestService(t, &stubAnswerer{})

	events, err := svc.Stream(context.Background(), Request{Message: ""})
	assert.Nil(t, events)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestService_StreamAnswererErrorEvent(t *testing.T) {
	svc, _ := newTestService(t, &stubAnswerer{err: errors.New("pipeline exploded")})

	events, err := svc.Stream(context.Background(), Request{Message: "hi"})
	require.NoError(t, err)
	got := testutil.Collect(events)

	require.Len(t, got, 2)
	assert.Equal(t, EventStart, got[0].Type)
	assert.Equal(t, EventError, got[1].Type)
	assert.Equal(t, "pipeline exploded", got[1].Error)
	assert.Equal(t, types.ErrInternalError, got[1].Code)
}

func TestService_Conversations(t *testing.T) {
	svc, _ := newTestService(t, &stubAnswerer{answer: "ok"})
	ctx := context.Background()

	created, err := svc.CreateConversation(ctx, "  ")
	require.NoError(t, err)
	assert.Equal(t, store.DefaultTitle, created.Title)

	resp, err := svc.Send(ctx, Request{Message: "second"})
	require.NoError(t, err)

	list, err := svc.ListConversations(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, resp.ConversationID, list[0].ID)

	require.NoError(t, svc.DeleteConversation(ctx, resp.ConversationID))
	err = svc.DeleteConversation(ctx, resp.ConversationID)
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))

	_, err = svc.Messages(ctx, resp.ConversationID, 0)
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))
}

func TestService_MessagesMalformedStoredJSON(t *testing.T) {
	svc, convs := newTestService(t, &stubAnswerer{})
	ctx := context.Background()

	conv, err := convs.CreateConversation(ctx, "legacy")
	require.NoError(t, err)
	bad := "{not json"
	require.NoError(t, convs.AddMessage(ctx, &store.Message{
		ConversationID: conv.ID,
		Role:           "assistant",
		Content:        "old answer",
		Sources:        &bad,
	}))

	msgs, err := svc.Messages(ctx, conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "old answer", msgs[0].Content)
	assert.Nil(t, msgs[0].Sources)
}
