package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/BaSui01/knowledgeflow/api"
	"github.com/BaSui01/knowledgeflow/chat"
	"github.com/BaSui01/knowledgeflow/store"
	"github.com/BaSui01/knowledgeflow/types"
	"go.uber.org/zap"
)

const (
	maxListLimit     = 200
	defaultMsgLimit  = 100
	maxMessagesLimit = 1000
)

// ConversationService 会话管理，由 *chat.Service 实现
type ConversationService interface {
	CreateConversation(ctx context.Context, title string) (*store.Conversation, error)
	ListConversations(ctx context.Context, limit int) ([]store.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	Messages(ctx context.Context, conversationID string, limit int) ([]chat.MessageView, error)
}

// ConversationHandler 处理会话的列表、创建、删除与消息查询
type ConversationHandler struct {
	service ConversationService
	logger  *zap.Logger
}

// NewConversationHandler 创建 ConversationHandler
func NewConversationHandler(service ConversationService, logger *zap.Logger) *ConversationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationHandler{service: service, logger: logger.With(zap.String("handler", "conversations"))}
}

// extractConversationID 从路径中提取会话 ID（Go 1.22+ PathValue 优先，回退到路径解析）
func extractConversationID(r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if id == "" {
		// /api/v1/conversations/{id}[/messages]
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) < 4 {
			return "", false
		}
		id = parts[3]
	}
	id = strings.TrimSpace(id)
	return id, id != ""
}

// queryLimit 解析 limit 参数，非法值报错，超过上限时截断
func queryLimit(r *http.Request, def, ceiling int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	return min(n, ceiling), true
}

// HandleList GET /api/v1/conversations
func (h *ConversationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}

	limit, ok := queryLimit(r, 0, maxListLimit)
	if !ok {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "limit must be a positive integer", h.logger)
		return
	}

	convs, err := h.service.ListConversations(r.Context(), limit)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.ConversationListResponse{Conversations: convs})
}

// HandleCreate POST /api/v1/conversations
func (h *ConversationHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}

	// 请求体可省略
	var req api.CreateConversationRequest
	if r.ContentLength != 0 && r.Body != nil && r.Body != http.NoBody {
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
	}

	conv, err := h.service.CreateConversation(r.Context(), req.Title)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusCreated, Response{
		Success:   true,
		Data:      api.CreateConversationResponse{ID: conv.ID, Title: conv.Title},
		Timestamp: conv.CreatedAt,
	})
}

// HandleDelete DELETE /api/v1/conversations/{id}
func (h *ConversationHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}

	id, ok := extractConversationID(r)
	if !ok {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "invalid conversation ID", h.logger)
		return
	}

	if err := h.service.DeleteConversation(r.Context(), id); err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	h.logger.Info("conversation deleted", zap.String("conversation_id", id))
	WriteSuccess(w, api.DeleteConversationResponse{Deleted: true})
}

// HandleMessages GET /api/v1/conversations/{id}/messages
func (h *ConversationHandler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}

	id, ok := extractConversationID(r)
	if !ok {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "invalid conversation ID", h.logger)
		return
	}
	limit, ok := queryLimit(r, defaultMsgLimit, maxMessagesLimit)
	if !ok {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "limit must be a positive integer", h.logger)
		return
	}

	msgs, err := h.service.Messages(r.Context(), id, limit)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, msgs)
}
