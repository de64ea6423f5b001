package agent

import (
	"context"
	"strings"
	"time"

	"github.com/BaSui01/knowledgeflow/config"
	"github.com/BaSui01/knowledgeflow/internal/metrics"
	"github.com/BaSui01/knowledgeflow/internal/telemetry"
	"github.com/BaSui01/knowledgeflow/llm"
	"github.com/BaSui01/knowledgeflow/rag"
	"github.com/BaSui01/knowledgeflow/types"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DefaultSystemPrompt 未配置系统提示词时使用
const DefaultSystemPrompt = `You are a knowledge-base assistant running in agent mode. You can search, inspect and organise the user's knowledge base through tools.

Knowledge retrieval:
- For knowledge questions, call search_knowledge first. It combines semantic vector search with keyword matching.
- Use list_tags to inspect the tag system when the user mentions a category, then filter with list_entities.
- Other tools: get_entity_detail, list_entities, query_graph, list_tags, update_entity_tags, create_entity, summarize_content, get_statistics.

Rules:
1. Answer from the data the tools return. Never invent entities or relations.
2. If a tool returns an error, tell the user what failed.
3. Answer concisely, in the user's language.`

// 终止回答
const (
	ExhaustedAnswer = "Agent reached the maximum number of iterations, please try simplifying the question."
	CanceledAnswer  = "Request canceled before an answer was generated."
)

const (
	historyTurns       = 10
	resultPreviewRunes = 500
)

// State 循环状态
type State string

const (
	StateAwaitingModel  State = "awaiting_model"
	StateExecutingTools State = "executing_tools"
	StateDone           State = "done"
	StateExhausted      State = "exhausted"
)

// IsTerminal 是否为终止状态
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateExhausted
}

// ToolInvocation 工具调用日志
type ToolInvocation struct {
	Iteration     int            `json:"iteration"`
	Tool          string         `json:"tool"`
	Arguments     map[string]any `json:"arguments"`
	ResultPreview string         `json:"result_preview"`
}

// Result 一次 Agent 运行的结果
type Result struct {
	Answer     string           `json:"answer"`
	ToolLog    []ToolInvocation `json:"tool_calls"`
	Iterations int              `json:"iterations"`
	State      State            `json:"state"`
}

// Runner 工具调用循环。每次 Run 的状态都在栈上，Runner 可并发使用。
type Runner struct {
	gateway  llm.Gateway
	registry *Registry
	config   config.AgentConfig
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewRunner 创建 Runner，零值配置项使用默认值
func NewRunner(gateway llm.Gateway, registry *Registry, cfg config.AgentConfig,
	collector *metrics.Collector, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := config.DefaultAgentConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	// 0 是合法的确定性采样，只有负值视为未设置
	if cfg.Temperature < 0 {
		cfg.Temperature = def.Temperature
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	return &Runner{
		gateway:  gateway,
		registry: registry,
		config:   cfg,
		metrics:  collector,
		logger:   logger.With(zap.String("component", "agent_runner")),
	}
}

// run 单次运行的状态
type run struct {
	state      State
	transcript []types.Message
	result     *Result
}

// Run 执行工具调用循环直到模型给出最终回答、迭代耗尽或 ctx 取消。
// 只有空查询返回错误。
func (r *Runner) Run(ctx context.Context, query string, history []types.HistoryTurn) (*Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, types.NewInvalidRequestError("query must not be empty")
	}

	ctx, span := telemetry.StartSpan(ctx, "agent.run",
		attribute.Int("agent.max_iterations", r.config.MaxIterations),
		attribute.Int("agent.history", len(history)),
	)
	defer span.End()

	transcript := make([]types.Message, 0, historyTurns+2)
	transcript = append(transcript, types.NewSystemMessage(r.config.SystemPrompt))
	transcript = append(transcript, types.HistoryMessages(history, historyTurns)...)
	transcript = append(transcript, types.NewUserMessage(query))

	st := &run{
		state:      StateAwaitingModel,
		transcript: transcript,
		result:     &Result{ToolLog: []ToolInvocation{}},
	}
	schemas := r.registry.Schemas()

	for !st.state.IsTerminal() {
		if err := ctx.Err(); err != nil {
			r.logger.Info("agent run canceled", zap.Int("iteration", st.result.Iterations), zap.Error(err))
			st.result.Answer = CanceledAnswer
			st.state = StateDone
			break
		}

		switch st.state {
		case StateAwaitingModel:
			if st.result.Iterations >= r.config.MaxIterations {
				r.logger.Warn("agent reached max iterations", zap.Int("max_iterations", r.config.MaxIterations))
				st.result.Answer = ExhaustedAnswer
				st.state = StateExhausted
				continue
			}
			st.result.Iterations++
			r.awaitModel(ctx, st, schemas)
		case StateExecutingTools:
			r.executeTools(ctx, st)
		}
	}

	st.result.State = st.state
	r.metrics.RecordAgentRun(string(st.state), st.result.Iterations)
	span.SetAttributes(
		attribute.String("agent.state", string(st.state)),
		attribute.Int("agent.iterations", st.result.Iterations),
	)
	return st.result, nil
}

// awaitModel 调用模型一次，决定进入工具执行还是结束
func (r *Runner) awaitModel(ctx context.Context, st *run, schemas []types.ToolSchema) {
	iteration := st.result.Iterations - 1
	callCtx, span := telemetry.StartSpan(ctx, "agent.iteration", attribute.Int("agent.iteration", iteration))
	callCtx, cancel := context.WithTimeout(callCtx, r.config.CallTimeout)
	defer cancel()

	completion, err := r.gateway.Complete(callCtx, st.transcript, llm.Options{
		Temperature: float32(r.config.Temperature),
		MaxTokens:   r.config.MaxTokens,
		Tools:       schemas,
		ToolChoice:  llm.ToolChoiceAuto,
		Timeout:     r.config.CallTimeout,
	})
	telemetry.EndSpan(span, err)
	if err != nil {
		r.logger.Error("agent LLM call failed", zap.Int("iteration", iteration), zap.Error(err))
		if ctx.Err() != nil {
			st.result.Answer = CanceledAnswer
		} else {
			st.result.Answer = "Agent LLM call failed: " + err.Error()
		}
		st.state = StateDone
		return
	}

	if !completion.HasToolCalls() {
		st.result.Answer = completion.Content
		st.state = StateDone
		return
	}
	st.transcript = append(st.transcript, completion.Message())
	st.state = StateExecutingTools
}

// executeTools 按请求顺序依次执行最后一条助手消息中的工具调用
func (r *Runner) executeTools(ctx context.Context, st *run) {
	iteration := st.result.Iterations - 1
	calls := st.transcript[len(st.transcript)-1].ToolCalls

	for _, call := range calls {
		if ctx.Err() != nil {
			// 交给主循环处理取消
			return
		}
		args := types.DecodeArguments(call.Arguments).OrElse(map[string]any{})
		r.logger.Info("agent tool call",
			zap.Int("iteration", iteration),
			zap.String("tool", call.Name),
			zap.Any("arguments", args))

		start := time.Now()
		res := r.registry.Execute(ctx, call)
		payload := res.Payload()

		st.result.ToolLog = append(st.result.ToolLog, ToolInvocation{
			Iteration:     iteration,
			Tool:          call.Name,
			Arguments:     args,
			ResultPreview: rag.Clip(payload, resultPreviewRunes),
		})
		st.transcript = append(st.transcript, res.ToMessage())
		r.logger.Debug("agent tool finished",
			zap.String("tool", call.Name),
			zap.Bool("failed", res.IsError()),
			zap.Duration("duration", time.Since(start)))
	}
	st.state = StateAwaitingModel
}
