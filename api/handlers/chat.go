package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"time"

	"github.com/BaSui01/knowledgeflow/api"
	"github.com/BaSui01/knowledgeflow/chat"
	"github.com/BaSui01/knowledgeflow/types"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// =============================================================================
// 💬 对话接口 Handler
// =============================================================================

// ChatService 对话服务，由 *chat.Service 实现
type ChatService interface {
	Send(ctx context.Context, req chat.Request) (*chat.Response, error)
	Stream(ctx context.Context, req chat.Request) (iter.Seq[chat.Event], error)
}

// ChatHandler 对话接口处理器
type ChatHandler struct {
	service        ChatService
	originPatterns []string
	logger         *zap.Logger
}

// NewChatHandler 创建对话处理器。originPatterns 为 WebSocket 允许的跨域来源。
func NewChatHandler(service ChatService, originPatterns []string, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{
		service:        service,
		originPatterns: originPatterns,
		logger:         logger.With(zap.String("handler", "chat")),
	}
}

// HandleSend 处理非流式对话请求
// @Summary 发送消息
// @Description 发送一条消息并返回完整回答
// @Tags 对话
// @Accept json
// @Produce json
// @Param request body api.ChatRequest true "对话请求"
// @Success 200 {object} api.ChatResponse "对话响应"
// @Failure 400 {object} Response "无效请求"
// @Failure 404 {object} Response "会话不存在"
// @Router /api/v1/chat/send [post]
func (h *ChatHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	start := time.Now()
	resp, err := h.service.Send(r.Context(), req)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("chat turn",
		zap.String("conversation_id", resp.ConversationID),
		zap.String("mode", req.Mode),
		zap.Int("sources", len(resp.Sources)),
		zap.Int("tool_calls", len(resp.ToolCalls)),
		zap.Duration("duration", time.Since(start)),
	)

	WriteSuccess(w, api.ChatResponse{
		ConversationID: resp.ConversationID,
		MessageID:      resp.MessageID,
		Answer:         resp.Answer,
		Sources:        resp.Sources,
		ToolCalls:      resp.ToolCalls,
	})
}

// HandleStream 处理 SSE 流式对话请求
// @Summary 流式发送消息
// @Description 以 SSE 返回 start、tool_call、token、sources、done 事件，最后是 [DONE]
// @Tags 对话
// @Accept json
// @Produce text/event-stream
// @Param request body api.ChatRequest true "对话请求"
// @Success 200 {string} string "SSE 流"
// @Failure 400 {object} Response "无效请求"
// @Router /api/v1/chat/stream [post]
func (h *ChatHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, types.NewError(types.ErrInternalError, "streaming not supported"), h.logger)
		return
	}

	// 校验与会话准备失败时仍可返回普通 JSON 错误
	events, err := h.service.Stream(r.Context(), req)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // 禁用 nginx 缓冲
	w.WriteHeader(http.StatusOK)

	for ev := range events {
		if err := writeSSE(w, ev); err != nil {
			h.logger.Debug("sse client gone", zap.Error(err))
			return
		}
		flusher.Flush()
	}

	if r.Context().Err() != nil {
		return
	}
	_, _ = w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}

// HandleWebSocket 处理 WebSocket 对话。每个文本帧是一条 api.ChatRequest，
// 服务端以同样的事件 JSON 逐帧回复，一轮结束后继续读取下一条请求。
// @Summary WebSocket 对话
// @Tags 对话
// @Router /api/v1/chat/ws [get]
func (h *ChatHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				h.logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}

		var req api.ChatRequest
		if err := json.Unmarshal(data, &req); err != nil {
			if err := writeWSEvent(ctx, conn, errorEvent(types.NewInvalidRequestError("invalid JSON frame"))); err != nil {
				return
			}
			continue
		}

		events, err := h.service.Stream(ctx, toChatRequest(req))
		if err != nil {
			if err := writeWSEvent(ctx, conn, errorEvent(err)); err != nil {
				return
			}
			continue
		}
		for ev := range events {
			if err := writeWSEvent(ctx, conn, ev); err != nil {
				h.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func (h *ChatHandler) decodeRequest(w http.ResponseWriter, r *http.Request) (chat.Request, bool) {
	if !ValidateContentType(w, r, h.logger) {
		return chat.Request{}, false
	}
	var req api.ChatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return chat.Request{}, false
	}
	return toChatRequest(req), true
}

func toChatRequest(req api.ChatRequest) chat.Request {
	return chat.Request{
		Message:        req.Message,
		ConversationID: req.ConversationID,
		Mode:           req.Mode,
		Stream:         req.Stream,
		TopK:           req.TopK,
	}
}

// writeSSE 写入一条 data 事件，使用 json.Marshal 转义内容
func writeSSE(w http.ResponseWriter, ev chat.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return nil
}

func writeWSEvent(ctx context.Context, conn *websocket.Conn, ev chat.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func errorEvent(err error) chat.Event {
	code := types.ErrInternalError
	message := "internal error"
	var typed *types.Error
	if errors.As(err, &typed) {
		code = typed.Code
		message = typed.Message
	}
	return chat.Event{Type: chat.EventError, Error: message, Code: code}
}
