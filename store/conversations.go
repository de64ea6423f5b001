package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/BaSui01/knowledgeflow/internal/metrics"
	"github.com/BaSui01/knowledgeflow/rag"
	"github.com/BaSui01/knowledgeflow/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultTitle 未命名会话的标题，收到第一条消息后替换
const DefaultTitle = "New conversation"

const titleRunes = 30

// ConversationStore 会话与消息的持久化
type ConversationStore interface {
	CreateConversation(ctx context.Context, title string) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, limit int) ([]Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	AddMessage(ctx context.Context, m *Message) error
	// Messages 按时间正序返回前 limit 条消息
	Messages(ctx context.Context, conversationID string, limit int) ([]Message, error)
	// RecentMessages 按时间正序返回最近 limit 条消息
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)
}

func newConversation(ctx context.Context, title string) *Conversation {
	if title == "" {
		title = DefaultTitle
	}
	userID, _ := types.UserID(ctx)
	now := time.Now().UTC()
	return &Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func prepareMessage(m *Message) error {
	if m.ConversationID == "" {
		return types.NewInvalidRequestError("conversation id is required")
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return nil
}

// titleFrom 由首条消息生成会话标题
func titleFrom(content string) string {
	clipped := rag.Clip(content, titleRunes)
	if clipped != content {
		return clipped + "..."
	}
	return content
}

// SQLConversationStore 基于 gorm 的会话存储
type SQLConversationStore struct {
	db      *gorm.DB
	metrics *metrics.Collector
	logger  *zap.Logger
}

var _ ConversationStore = (*SQLConversationStore)(nil)

// NewSQLConversationStore 创建 SQL 会话存储
func NewSQLConversationStore(db *gorm.DB, collector *metrics.Collector, logger *zap.Logger) *SQLConversationStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLConversationStore{
		db:      db,
		metrics: collector,
		logger:  logger.With(zap.String("component", "conversation_store")),
	}
}

// CreateConversation 创建会话，UserID 取自 ctx
func (s *SQLConversationStore) CreateConversation(ctx context.Context, title string) (*Conversation, error) {
	defer observe(s.metrics, "create_conversation")()

	c := newConversation(ctx, title)
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

// GetConversation 查询会话
func (s *SQLConversationStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewNotFoundError("conversation not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	return &c, nil
}

// ListConversations 按更新时间倒序列出会话；ctx 带用户时只列出该用户的会话
func (s *SQLConversationStore) ListConversations(ctx context.Context, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	defer observe(s.metrics, "list_conversations")()

	q := s.db.WithContext(ctx).Model(&Conversation{})
	if userID, ok := types.UserID(ctx); ok && userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	out := []Conversation{}
	if err := q.Order("updated_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

// DeleteConversation 删除会话及其消息
func (s *SQLConversationStore) DeleteConversation(ctx context.Context, id string) error {
	defer observe(s.metrics, "delete_conversation")()

	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", id).Delete(&Message{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&Conversation{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}
	if deleted == 0 {
		return types.NewNotFoundError("conversation not found")
	}
	return nil
}

// AddMessage 追加消息并刷新会话的更新时间；会话仍为默认标题时用消息内容命名
func (s *SQLConversationStore) AddMessage(ctx context.Context, m *Message) error {
	if err := prepareMessage(m); err != nil {
		return err
	}
	defer observe(s.metrics, "add_message")()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		if err := tx.Model(&Conversation{}).
			Where("id = ? AND title = ?", m.ConversationID, DefaultTitle).
			Update("title", titleFrom(m.Content)).Error; err != nil {
			return err
		}
		return tx.Model(&Conversation{}).
			Where("id = ?", m.ConversationID).
			Update("updated_at", m.CreatedAt).Error
	})
	if err != nil {
		return fmt.Errorf("add message: %w", err)
	}
	return nil
}

// Messages 按时间正序返回前 limit 条消息，limit<=0 时默认 100
func (s *SQLConversationStore) Messages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	out := []Message{}
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

// RecentMessages 按时间正序返回最近 limit 条消息
func (s *SQLConversationStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		return []Message{}, nil
	}
	out := []Message{}
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	slices.Reverse(out)
	return out, nil
}
