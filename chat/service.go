package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/knowledgeflow/agent"
	"github.com/BaSui01/knowledgeflow/config"
	"github.com/BaSui01/knowledgeflow/internal/telemetry"
	"github.com/BaSui01/knowledgeflow/rag"
	"github.com/BaSui01/knowledgeflow/store"
	"github.com/BaSui01/knowledgeflow/types"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	titleRunes          = 50
	defaultHistoryLimit = 20
	defaultListLimit    = 50
)

// Mode 回答模式
type Mode string

const (
	ModeRAG   Mode = "rag"
	ModeAgent Mode = "agent"
)

// ParseMode 解析请求中的模式，空值为 rag
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeRAG:
		return ModeRAG, nil
	case ModeAgent:
		return ModeAgent, nil
	default:
		return "", types.NewInvalidRequestError(fmt.Sprintf("unknown mode: %q", s))
	}
}

// Answerer 检索增强问答，由 *rag.Pipeline 实现
type Answerer interface {
	Run(ctx context.Context, query string, history []types.HistoryTurn, topK int) (*rag.Context, error)
}

// AgentRunner 工具调用循环，由 *agent.Runner 实现
type AgentRunner interface {
	Run(ctx context.Context, query string, history []types.HistoryTurn) (*agent.Result, error)
}

// Request 一轮对话请求
type Request struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
	Mode           string `json:"mode,omitempty"`
	Stream         bool   `json:"stream,omitempty"`
	TopK           int    `json:"top_k,omitempty"`
}

// Response 一轮对话的完整结果
type Response struct {
	ConversationID string                 `json:"conversation_id"`
	MessageID      string                 `json:"message_id"`
	Answer         string                 `json:"answer"`
	Sources        []rag.SourceRef        `json:"sources"`
	ToolCalls      []agent.ToolInvocation `json:"tool_calls"`
}

// MessageView 对外展示的消息，sources 与 tool_calls 已解码
type MessageView struct {
	store.Message
	Sources   []rag.SourceRef        `json:"sources,omitempty"`
	ToolCalls []agent.ToolInvocation `json:"tool_calls,omitempty"`
}

// Service 会话编排：持久化消息、选择回答模式、生成事件流
type Service struct {
	conversations store.ConversationStore
	answerer      Answerer
	agent         AgentRunner
	historyLimit  int
	chunkSize     int
	logger        *zap.Logger
}

// Option 配置 Service
type Option func(*Service)

// WithAgent 启用 agent 模式
func WithAgent(r AgentRunner) Option {
	return func(s *Service) { s.agent = r }
}

// WithChunkSize 设置流式输出的片段长度
func WithChunkSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// NewService 创建会话服务
func NewService(conversations store.ConversationStore, answerer Answerer, cfg config.ChatConfig,
	logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		conversations: conversations,
		answerer:      answerer,
		historyLimit:  cfg.HistoryLimit,
		chunkSize:     rag.DefaultChunkSize,
		logger:        logger.With(zap.String("component", "chat_service")),
	}
	if s.historyLimit <= 0 {
		s.historyLimit = defaultHistoryLimit
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// turn 一轮对话在生成回答前已确定的状态
type turn struct {
	conversationID string
	query          string
	mode           Mode
	topK           int
	history        []types.HistoryTurn
}

// reply 生成的回答
type reply struct {
	answer    string
	sources   []rag.SourceRef
	toolCalls []agent.ToolInvocation
}

// Send 执行一轮对话并返回完整回答
func (s *Service) Send(ctx context.Context, req Request) (*Response, error) {
	t, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	r, err := s.answer(ctx, t)
	if err != nil {
		return nil, err
	}
	messageID, err := s.persist(ctx, t, r)
	if err != nil {
		return nil, err
	}
	return &Response{
		ConversationID: t.conversationID,
		MessageID:      messageID,
		Answer:         r.answer,
		Sources:        r.sources,
		ToolCalls:      r.toolCalls,
	}, nil
}

// Stream 校验请求并落库用户消息，返回本轮的事件序列。
// 回答在遍历时生成，序列只应遍历一次；消费者提前停止时不再产出事件。
func (s *Service) Stream(ctx context.Context, req Request) (iter.Seq[Event], error) {
	t, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return func(yield func(Event) bool) {
		if !yield(startEvent(t.conversationID)) {
			return
		}

		r, err := s.answer(ctx, t)
		if err != nil {
			yield(errorEvent(err))
			return
		}
		// 客户端断开后回答仍然落库
		messageID, err := s.persist(ctx, t, r)
		if err != nil {
			yield(errorEvent(err))
			return
		}

		for _, inv := range r.toolCalls {
			if !yield(toolCallEvent(inv)) {
				return
			}
		}
		for chunk := range rag.StreamTokens(r.answer, s.chunkSize) {
			if ctx.Err() != nil {
				return
			}
			if !yield(tokenEvent(chunk)) {
				return
			}
		}
		if t.mode == ModeRAG {
			if !yield(sourcesEvent(r.sources)) {
				return
			}
		}
		yield(doneEvent(messageID))
	}, nil
}

func (s *Service) prepare(ctx context.Context, req Request) (*turn, error) {
	query := strings.TrimSpace(req.Message)
	if query == "" {
		return nil, types.NewInvalidRequestError("message must not be empty")
	}
	mode, err := ParseMode(req.Mode)
	if err != nil {
		return nil, err
	}
	if mode == ModeAgent && s.agent == nil {
		return nil, types.NewError(types.ErrServiceUnavailable, "agent mode is not enabled").
			WithHTTPStatus(http.StatusServiceUnavailable)
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conv, err := s.conversations.CreateConversation(ctx, rag.Clip(query, titleRunes))
		if err != nil {
			return nil, err
		}
		conversationID = conv.ID
	} else if _, err := s.conversations.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	userMsg := &store.Message{
		ConversationID: conversationID,
		Role:           string(types.RoleUser),
		Content:        req.Message,
	}
	if err := s.conversations.AddMessage(ctx, userMsg); err != nil {
		return nil, err
	}

	history, err := s.history(ctx, conversationID, userMsg.ID)
	if err != nil {
		return nil, err
	}

	return &turn{
		conversationID: conversationID,
		query:          query,
		mode:           mode,
		topK:           req.TopK,
		history:        history,
	}, nil
}

// history 最近 historyLimit 条消息，不含本轮的用户消息
func (s *Service) history(ctx context.Context, conversationID, currentID string) ([]types.HistoryTurn, error) {
	recent, err := s.conversations.RecentMessages(ctx, conversationID, s.historyLimit+1)
	if err != nil {
		return nil, err
	}
	turns := make([]types.HistoryTurn, 0, len(recent))
	for _, m := range recent {
		if m.ID == currentID {
			continue
		}
		turns = append(turns, types.HistoryTurn{Role: types.ParseRole(m.Role), Content: m.Content})
	}
	if len(turns) > s.historyLimit {
		turns = turns[len(turns)-s.historyLimit:]
	}
	return turns, nil
}

func (s *Service) answer(ctx context.Context, t *turn) (*reply, error) {
	ctx, span := telemetry.StartSpan(ctx, "chat.turn",
		attribute.String("chat.mode", string(t.mode)),
		attribute.Int("chat.history", len(t.history)),
	)
	start := time.Now()

	var (
		r   *reply
		err error
	)
	switch t.mode {
	case ModeAgent:
		var res *agent.Result
		res, err = s.agent.Run(ctx, t.query, t.history)
		if err == nil {
			r = &reply{answer: res.Answer, sources: []rag.SourceRef{}, toolCalls: res.ToolLog}
			if r.toolCalls == nil {
				r.toolCalls = []agent.ToolInvocation{}
			}
		}
	default:
		var rc *rag.Context
		rc, err = s.answerer.Run(ctx, t.query, t.history, t.topK)
		if err == nil {
			r = &reply{answer: rc.Answer, sources: rc.Sources, toolCalls: []agent.ToolInvocation{}}
			if r.sources == nil {
				r.sources = []rag.SourceRef{}
			}
		}
	}
	telemetry.EndSpan(span, err)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("chat turn answered",
		zap.String("conversation_id", t.conversationID),
		zap.String("mode", string(t.mode)),
		zap.Int("history", len(t.history)),
		zap.Duration("duration", time.Since(start)))
	return r, nil
}

func (s *Service) persist(ctx context.Context, t *turn, r *reply) (string, error) {
	msg := &store.Message{
		ConversationID: t.conversationID,
		Role:           string(types.RoleAssistant),
		Content:        r.answer,
	}
	switch t.mode {
	case ModeAgent:
		raw, err := json.Marshal(r.toolCalls)
		if err != nil {
			return "", fmt.Errorf("encode tool calls: %w", err)
		}
		encoded := string(raw)
		msg.ToolCalls = &encoded
	default:
		raw, err := json.Marshal(r.sources)
		if err != nil {
			return "", fmt.Errorf("encode sources: %w", err)
		}
		encoded := string(raw)
		msg.Sources = &encoded
	}

	if err := s.conversations.AddMessage(context.WithoutCancel(ctx), msg); err != nil {
		s.logger.Error("failed to persist assistant message",
			zap.String("conversation_id", t.conversationID), zap.Error(err))
		return "", err
	}
	return msg.ID, nil
}

// CreateConversation 新建会话，空标题使用默认标题
func (s *Service) CreateConversation(ctx context.Context, title string) (*store.Conversation, error) {
	return s.conversations.CreateConversation(ctx, strings.TrimSpace(title))
}

// ListConversations 按更新时间倒序列出会话，limit<=0 时默认 50
func (s *Service) ListConversations(ctx context.Context, limit int) ([]store.Conversation, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.conversations.ListConversations(ctx, limit)
}

// DeleteConversation 删除会话及其消息
func (s *Service) DeleteConversation(ctx context.Context, id string) error {
	return s.conversations.DeleteConversation(ctx, id)
}

// Messages 按时间正序返回会话消息。会话不存在时返回 NOT_FOUND。
func (s *Service) Messages(ctx context.Context, conversationID string, limit int) ([]MessageView, error) {
	if _, err := s.conversations.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	msgs, err := s.conversations.Messages(ctx, conversationID, limit)
	if err != nil {
		return nil, err
	}
	views := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, s.view(m))
	}
	return views, nil
}

func (s *Service) view(m store.Message) MessageView {
	v := MessageView{Message: m}
	if m.Sources != nil {
		o := types.DecodeJSON[[]rag.SourceRef]([]byte(*m.Sources))
		if !o.IsOk() {
			s.logger.Warn("malformed stored sources", zap.String("message_id", m.ID), zap.Error(o.Err))
		}
		v.Sources = o.OrElse(nil)
	}
	if m.ToolCalls != nil {
		o := types.DecodeJSON[[]agent.ToolInvocation]([]byte(*m.ToolCalls))
		if !o.IsOk() {
			s.logger.Warn("malformed stored tool calls", zap.String("message_id", m.ID), zap.Error(o.Err))
		}
		v.ToolCalls = o.OrElse(nil)
	}
	return v
}
