package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/BaSui01/knowledgeflow/testutil/fixtures"
	"github.com/BaSui01/knowledgeflow/testutil/mocks"
	"github.com/BaSui01/knowledgeflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestRegistry(t *testing.T, tools ...*mocks.MockTool) *Registry {
	t.Helper()
	r := NewRegistry(nil, zaptest.NewLogger(t))
	for _, mt := range tools {
		require.NoError(t, r.Register(mt.Name(), Tool{Schema: mt.Schema(), Func: ToolFunc(mt.Func())}))
	}
	return r
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry(nil, nil)
	echo := mocks.NewEchoTool("echo")

	require.NoError(t, r.Register("echo", Tool{Func: ToolFunc(echo.Func())}))
	tool, ok := r.Resolve("echo")
	require.True(t, ok)
	assert.Equal(t, "echo", tool.Schema.Name)
	assert.Equal(t, DefaultToolTimeout, tool.Timeout)
	assert.JSONEq(t, `{"type":"object","properties":{}}`, string(tool.Schema.Parameters))

	err := r.Register("echo", Tool{Func: ToolFunc(echo.Func())})
	assert.ErrorContains(t, err, "already registered")

	err = r.Register("other", Tool{Schema: types.ToolSchema{Name: "mismatch"}, Func: ToolFunc(echo.Func())})
	assert.ErrorContains(t, err, "name mismatch")

	err = r.Register("nofunc", Tool{})
	assert.ErrorContains(t, err, "no function")

	_, ok = r.Resolve("missing")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_SchemasSorted(t *testing.T) {
	r := newTestRegistry(t, mocks.NewMockTool("zeta"), mocks.NewMockTool("alpha"), mocks.NewMockTool("mid"))

	schemas := r.Schemas()
	require.Len(t, schemas, 3)
	assert.Equal(t, "alpha", schemas[0].Name)
	assert.Equal(t, "mid", schemas[1].Name)
	assert.Equal(t, "zeta", schemas[2].Name)
}

func TestRegistry_Execute(t *testing.T) {
	echo := mocks.NewEchoTool("echo")
	r := newTestRegistry(t, echo)

	res := r.Execute(context.Background(), fixtures.ToolCall("c1", "echo", map[string]any{"q": "roadmap"}))
	require.False(t, res.IsError(), res.Error)
	assert.Equal(t, "c1", res.ToolCallID)
	assert.JSONEq(t, `{"q":"roadmap"}`, string(res.Result))

	msg := res.ToMessage()
	assert.Equal(t, types.RoleTool, msg.Role)
	assert.Equal(t, "c1", msg.ToolCallID)
}

func TestRegistry_ExecuteUnknownTool(t *testing.T) {
	r := newTestRegistry(t)

	res := r.Execute(context.Background(), fixtures.ToolCall("c1", "ghost", map[string]any{}))
	assert.True(t, res.IsError())
	assert.JSONEq(t, `{"error":"unknown tool: ghost"}`, res.Payload())
}

func TestRegistry_ExecuteFailures(t *testing.T) {
	tests := []struct {
		name    string
		tool    *mocks.MockTool
		timeout time.Duration
		want    string
	}{
		{
			name: "error",
			tool: mocks.NewErrorTool("broken", "database is locked"),
			want: "database is locked",
		},
		{
			name: "panic",
			tool: mocks.NewMockTool("boom").WithPanic("nil map"),
			want: "tool panicked: nil map",
		},
		{
			name:    "timeout",
			tool:    mocks.NewMockTool("slow").WithDelay(time.Second),
			timeout: 20 * time.Millisecond,
			want:    "execution timeout after 20ms",
		},
		{
			name: "unencodable result",
			tool: mocks.NewMockTool("chan").WithResult(make(chan int)),
			want: "encode tool result",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(nil, zaptest.NewLogger(t))
			require.NoError(t, r.Register(tt.tool.Name(), Tool{Func: ToolFunc(tt.tool.Func()), Timeout: tt.timeout}))

			res := r.Execute(context.Background(), fixtures.ToolCall("c1", tt.tool.Name(), map[string]any{}))
			require.True(t, res.IsError())
			assert.Contains(t, res.Error, tt.want)

			var payload map[string]string
			require.NoError(t, json.Unmarshal([]byte(res.Payload()), &payload))
			assert.Contains(t, payload["error"], tt.want)
		})
	}
}

func TestRegistry_ExecuteMalformedArguments(t *testing.T) {
	echo := mocks.NewEchoTool("echo")
	r := newTestRegistry(t, echo)

	for _, raw := range []string{`{not json`, `[1,2]`, `"str"`, ``, `null`} {
		res := r.Execute(context.Background(), fixtures.RawToolCall("c1", "echo", raw))
		require.False(t, res.IsError(), "raw=%q: %s", raw, res.Error)

		args, ok := echo.LastArgs()
		require.True(t, ok)
		assert.Empty(t, args, "raw=%q", raw)
		assert.NotNil(t, args, "raw=%q", raw)
	}
}

func TestRegistry_ExecuteRateLimited(t *testing.T) {
	tool := mocks.NewMockTool("write")
	r := NewRegistry(nil, zaptest.NewLogger(t))
	require.NoError(t, r.Register("write", Tool{
		Func:      ToolFunc(tool.Func()),
		RateLimit: &RateLimit{PerSecond: 0.001, Burst: 1},
	}))

	first := r.Execute(context.Background(), fixtures.ToolCall("c1", "write", map[string]any{}))
	assert.False(t, first.IsError())

	second := r.Execute(context.Background(), fixtures.ToolCall("c2", "write", map[string]any{}))
	assert.True(t, second.IsError())
	assert.Contains(t, second.Error, "rate limit exceeded")
	assert.Equal(t, 1, tool.CallCount())
}

func TestRegistry_ExecuteCanceled(t *testing.T) {
	tool := mocks.NewMockTool("slow").WithDelay(time.Second)
	r := newTestRegistry(t, tool)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res := r.Execute(ctx, fixtures.ToolCall("c1", "slow", map[string]any{}))
	assert.True(t, res.IsError())
	assert.Equal(t, "tool call canceled", res.Error)
}
