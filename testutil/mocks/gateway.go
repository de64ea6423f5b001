// MockGateway 是 llm.Gateway 的脚本化测试实现。
//
// 支持按顺序回放补全结果、错误注入、固定向量与调用记录。
package mocks

import (
	"context"
	"errors"
	"sync"

	"github.com/BaSui01/knowledgeflow/llm"
	"github.com/BaSui01/knowledgeflow/types"
)

// ErrScriptExhausted 脚本中的响应已全部消费
var ErrScriptExhausted = errors.New("mock gateway: script exhausted")

// --- MockGateway 结构 ---

// MockGateway 是 llm.Gateway 的模拟实现
type MockGateway struct {
	mu sync.Mutex

	// 补全脚本：按顺序返回，耗尽后重复 fallback
	script   []Step
	fallback *Step

	embedding []float32
	embedErr  error
	available bool

	completeFunc func(ctx context.Context, msgs []types.Message, opts llm.Options) (*llm.Completion, error)

	calls      []CompleteCall
	embedCalls []string
}

// Step 单次补全的预设结果
type Step struct {
	Completion *llm.Completion
	Err        error
}

// CompleteCall 记录单次补全调用
type CompleteCall struct {
	Messages []types.Message
	Options  llm.Options
}

var _ llm.Gateway = (*MockGateway)(nil)

// NewMockGateway 创建可用、无脚本的 MockGateway
func NewMockGateway() *MockGateway {
	return &MockGateway{
		embedding: []float32{0.1, 0.2, 0.3},
		available: true,
	}
}

// --- Builder 方法 ---

// WithResponse 追加一个文本响应
func (m *MockGateway) WithResponse(content string) *MockGateway {
	return m.WithCompletion(&llm.Completion{Content: content, FinishReason: "stop"})
}

// WithToolCalls 追加一个请求工具调用的响应
func (m *MockGateway) WithToolCalls(calls ...types.ToolCall) *MockGateway {
	return m.WithCompletion(&llm.Completion{ToolCalls: calls, FinishReason: "tool_calls"})
}

// WithCompletion 追加一个完整的补全结果
func (m *MockGateway) WithCompletion(c *llm.Completion) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, Step{Completion: c})
	return m
}

// WithError 追加一个失败的调用
func (m *MockGateway) WithError(err error) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, Step{Err: err})
	return m
}

// WithRepeat 设置脚本耗尽后重复返回的结果
func (m *MockGateway) WithRepeat(step Step) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = &step
	return m
}

// WithEmbedding 设置 Embed 返回的向量
func (m *MockGateway) WithEmbedding(vec []float32) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embedding = vec
	return m
}

// WithEmbedError 设置 Embed 返回的错误
func (m *MockGateway) WithEmbedError(err error) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embedErr = err
	return m
}

// WithAvailable 设置 Available 的返回值
func (m *MockGateway) WithAvailable(available bool) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = available
	return m
}

// WithCompleteFunc 设置自定义补全函数，优先于脚本
func (m *MockGateway) WithCompleteFunc(fn func(ctx context.Context, msgs []types.Message, opts llm.Options) (*llm.Completion, error)) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completeFunc = fn
	return m
}

// --- Gateway 接口实现 ---

// Complete 按脚本返回补全结果
func (m *MockGateway) Complete(ctx context.Context, msgs []types.Message, opts llm.Options) (*llm.Completion, error) {
	m.mu.Lock()
	transcript := make([]types.Message, len(msgs))
	copy(transcript, msgs)
	m.calls = append(m.calls, CompleteCall{Messages: transcript, Options: opts})
	fn := m.completeFunc

	var step *Step
	if fn == nil {
		switch {
		case len(m.script) > 0:
			s := m.script[0]
			m.script = m.script[1:]
			step = &s
		case m.fallback != nil:
			step = m.fallback
		}
	}
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(ctx, msgs, opts)
	}
	if step == nil {
		return nil, ErrScriptExhausted
	}
	if step.Err != nil {
		return nil, step.Err
	}
	c := *step.Completion
	return &c, nil
}

// Embed 返回固定向量
func (m *MockGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embedCalls = append(m.embedCalls, text)
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	return m.embedding, nil
}

// Available 返回预设可用性
func (m *MockGateway) Available(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// --- 调用记录 ---

// Calls 返回所有补全调用记录
func (m *MockGateway) Calls() []CompleteCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CompleteCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount 返回补全调用次数
func (m *MockGateway) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastCall 返回最后一次补全调用
func (m *MockGateway) LastCall() (CompleteCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return CompleteCall{}, false
	}
	return m.calls[len(m.calls)-1], true
}

// EmbedCalls 返回 Embed 收到的文本
func (m *MockGateway) EmbedCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.embedCalls...)
}
