package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/knowledgeflow/internal/metrics"
	"github.com/BaSui01/knowledgeflow/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultToolTimeout 工具未声明超时时使用
const DefaultToolTimeout = 30 * time.Second

// ToolFunc 工具函数签名。参数总是 JSON 对象，畸形参数已被替换为 {}。
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// RateLimit 工具级速率限制，令牌桶
type RateLimit struct {
	PerSecond float64
	Burst     int
}

// Tool 注册到 Registry 的工具
type Tool struct {
	Schema    types.ToolSchema
	Func      ToolFunc
	Timeout   time.Duration
	RateLimit *RateLimit
}

type registeredTool struct {
	Tool
	limiter *rate.Limiter
}

// Registry 工具注册中心，注册后只读
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*registeredTool
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewRegistry 创建工具注册中心
func NewRegistry(collector *metrics.Collector, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tools:   make(map[string]*registeredTool),
		metrics: collector,
		logger:  logger.With(zap.String("component", "tool_registry")),
	}
}

// Register 注册工具。名称重复或与 Schema 不一致时报错。
func (r *Registry) Register(name string, tool Tool) error {
	if tool.Func == nil {
		return fmt.Errorf("tool %s has no function", name)
	}
	if tool.Schema.Name == "" {
		tool.Schema.Name = name
	}
	if tool.Schema.Name != name {
		return fmt.Errorf("tool name mismatch: schema.Name=%s, register name=%s", tool.Schema.Name, name)
	}
	if len(tool.Schema.Parameters) == 0 {
		tool.Schema.Parameters = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	if tool.Timeout <= 0 {
		tool.Timeout = DefaultToolTimeout
	}

	rt := &registeredTool{Tool: tool}
	if tool.RateLimit != nil && tool.RateLimit.PerSecond > 0 {
		burst := tool.RateLimit.Burst
		if burst <= 0 {
			burst = 1
		}
		rt.limiter = rate.NewLimiter(rate.Limit(tool.RateLimit.PerSecond), burst)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = rt

	r.logger.Debug("tool registered", zap.String("name", name), zap.Duration("timeout", tool.Timeout))
	return nil
}

// Resolve 按名称查找工具
func (r *Registry) Resolve(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tools[name]
	if !ok {
		return Tool{}, false
	}
	return rt.Tool, true
}

// Schemas 返回所有工具的 Schema，按名称排序
func (r *Registry) Schemas() []types.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]types.ToolSchema, 0, len(r.tools))
	for _, rt := range r.tools {
		schemas = append(schemas, rt.Schema)
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}

// Len 已注册的工具数量
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Execute 执行一次工具调用。任何失败（未知工具、限流、超时、错误、panic）
// 都体现在 ToolResult.Error 中，不会返回给调用方。
func (r *Registry) Execute(ctx context.Context, call types.ToolCall) types.ToolResult {
	start := time.Now()
	result := types.ToolResult{ToolCallID: call.ID, Name: call.Name}
	finish := func() types.ToolResult {
		result.Duration = time.Since(start)
		r.metrics.RecordToolCall(call.Name, result.IsError(), result.Duration)
		return result
	}

	r.mu.RLock()
	rt, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		result.Error = "unknown tool: " + call.Name
		r.logger.Warn("unknown tool requested", zap.String("name", call.Name))
		return finish()
	}

	if rt.limiter != nil && !rt.limiter.Allow() {
		result.Error = fmt.Sprintf("rate limit exceeded for tool %s", call.Name)
		r.logger.Warn("tool rate limited", zap.String("name", call.Name))
		return finish()
	}

	args := types.DecodeArguments(call.Arguments).OrElse(map[string]any{})

	execCtx, cancel := context.WithTimeout(ctx, rt.Timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	// 带缓冲，超时后 goroutine 仍能退出
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("tool panicked",
					zap.String("name", call.Name),
					zap.Any("panic", p),
					zap.ByteString("stack", debug.Stack()))
				done <- outcome{err: fmt.Errorf("tool panicked: %v", p)}
			}
		}()
		v, err := rt.Func(execCtx, args)
		done <- outcome{value: v, err: err}
	}()

	var o outcome
	select {
	case o = <-done:
	case <-execCtx.Done():
	}
	// 工具自身感知到取消后返回的错误同样按中断处理
	if execCtx.Err() != nil && (o.err != nil || o.value == nil) {
		if ctx.Err() != nil {
			result.Error = "tool call canceled"
		} else {
			result.Error = fmt.Sprintf("execution timeout after %s", rt.Timeout)
		}
		r.logger.Warn("tool execution interrupted", zap.String("name", call.Name), zap.Error(execCtx.Err()))
		return finish()
	}

	if o.err != nil {
		result.Error = o.err.Error()
		r.logger.Warn("tool execution failed", zap.String("name", call.Name), zap.Error(o.err))
		return finish()
	}
	raw, err := json.Marshal(o.value)
	if err != nil {
		result.Error = fmt.Sprintf("encode tool result: %v", err)
		return finish()
	}
	result.Result = raw
	r.logger.Debug("tool executed", zap.String("name", call.Name), zap.Duration("duration", time.Since(start)))
	return finish()
}
