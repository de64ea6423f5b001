// MockTool 是 Agent 工具函数的测试模拟实现。
//
// 支持固定结果、错误注入、panic、延迟与调用记录。
package mocks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/BaSui01/knowledgeflow/types"
)

// --- MockTool 结构 ---

// ToolFunc 工具执行函数类型，与 agent.ToolFunc 签名一致
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// MockTool 可脚本化的工具
type MockTool struct {
	mu sync.Mutex

	name   string
	result any
	err    error
	panic  any
	delay  time.Duration
	fn     ToolFunc

	calls []ToolInvocation
}

// ToolInvocation 记录单次工具调用
type ToolInvocation struct {
	Args map[string]any
	At   time.Time
}

// --- 构造函数和 Builder 方法 ---

// NewMockTool 创建返回 {"ok": true} 的工具
func NewMockTool(name string) *MockTool {
	return &MockTool{name: name, result: map[string]any{"ok": true}}
}

// WithResult 设置固定返回结果
func (m *MockTool) WithResult(result any) *MockTool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.result = result
	return m
}

// WithError 设置固定返回错误
func (m *MockTool) WithError(err error) *MockTool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithPanic 执行时 panic
func (m *MockTool) WithPanic(v any) *MockTool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panic = v
	return m
}

// WithDelay 执行前等待，ctx 取消时提前返回
func (m *MockTool) WithDelay(d time.Duration) *MockTool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithFunc 设置自定义执行函数，优先于固定结果
func (m *MockTool) WithFunc(fn ToolFunc) *MockTool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
	return m
}

// --- 工具接口 ---

// Name 工具名
func (m *MockTool) Name() string { return m.name }

// Schema 返回空参数对象的 Schema
func (m *MockTool) Schema() types.ToolSchema {
	return types.ToolSchema{
		Name:        m.name,
		Description: "Mock tool: " + m.name,
		Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
	}
}

// Func 返回可注册的工具函数
func (m *MockTool) Func() ToolFunc {
	return m.call
}

func (m *MockTool) call(ctx context.Context, args map[string]any) (any, error) {
	m.mu.Lock()
	m.calls = append(m.calls, ToolInvocation{Args: args, At: time.Now()})
	result, err, p, delay, fn := m.result, m.err, m.panic, m.delay, m.fn
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p != nil {
		panic(p)
	}
	if fn != nil {
		return fn(ctx, args)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// --- 查询方法 ---

// Calls 返回所有调用记录
func (m *MockTool) Calls() []ToolInvocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ToolInvocation(nil), m.calls...)
}

// CallCount 返回调用次数
func (m *MockTool) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastArgs 返回最后一次调用的参数
func (m *MockTool) LastArgs() (map[string]any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil, false
	}
	return m.calls[len(m.calls)-1].Args, true
}

// --- 预设工具工厂 ---

// NewEchoTool 原样返回参数
func NewEchoTool(name string) *MockTool {
	return NewMockTool(name).WithFunc(func(_ context.Context, args map[string]any) (any, error) {
		return args, nil
	})
}

// NewErrorTool 总是返回错误
func NewErrorTool(name, message string) *MockTool {
	return NewMockTool(name).WithError(errors.New(message))
}
