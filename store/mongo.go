package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/BaSui01/knowledgeflow/config"
	"github.com/BaSui01/knowledgeflow/types"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"
)

const (
	mongoConversations = "conversations"
	mongoMessages      = "messages"
)

// MongoConversationStore 基于 MongoDB 的会话存储
type MongoConversationStore struct {
	client        *mongo.Client
	conversations *mongo.Collection
	messages      *mongo.Collection
	logger        *zap.Logger
}

var _ ConversationStore = (*MongoConversationStore)(nil)

// NewMongoConversationStore 连接 MongoDB 并创建索引
func NewMongoConversationStore(ctx context.Context, cfg config.MongoConfig, logger *zap.Logger) (*MongoConversationStore, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo uri is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI).SetConnectTimeout(cfg.ConnectTimeout))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(cfg.Database)
	s := &MongoConversationStore{
		client:        client,
		conversations: db.Collection(mongoConversations),
		messages:      db.Collection(mongoMessages),
		logger:        logger.With(zap.String("component", "mongo_conversation_store")),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	s.logger.Info("mongo conversation store ready", zap.String("database", cfg.Database))
	return s, nil
}

func (s *MongoConversationStore) ensureIndexes(ctx context.Context) error {
	_, err := s.conversations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "updated_at", Value: -1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "updated_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create conversation indexes: %w", err)
	}
	_, err = s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create message indexes: %w", err)
	}
	return nil
}

// Ping 检查连接
func (s *MongoConversationStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close 断开连接
func (s *MongoConversationStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// CreateConversation 创建会话
func (s *MongoConversationStore) CreateConversation(ctx context.Context, title string) (*Conversation, error) {
	c := newConversation(ctx, title)
	if _, err := s.conversations.InsertOne(ctx, c); err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return c, nil
}

// GetConversation 查询会话
func (s *MongoConversationStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	err := s.conversations.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, types.NewNotFoundError("conversation not found")
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation %s: %w", id, err)
	}
	return &c, nil
}

// ListConversations 按更新时间倒序列出会话
func (s *MongoConversationStore) ListConversations(ctx context.Context, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	filter := bson.D{}
	if userID, ok := types.UserID(ctx); ok && userID != "" {
		filter = bson.D{{Key: "user_id", Value: userID}}
	}
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}}).SetLimit(int64(limit))

	cur, err := s.conversations.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find conversations: %w", err)
	}
	out := []Conversation{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}
	return out, nil
}

// DeleteConversation 删除会话及其消息
func (s *MongoConversationStore) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.conversations.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return types.NewNotFoundError("conversation not found")
	}
	if _, err := s.messages.DeleteMany(ctx, bson.D{{Key: "conversation_id", Value: id}}); err != nil {
		return fmt.Errorf("delete messages of %s: %w", id, err)
	}
	return nil
}

// AddMessage 追加消息并刷新会话
func (s *MongoConversationStore) AddMessage(ctx context.Context, m *Message) error {
	if err := prepareMessage(m); err != nil {
		return err
	}
	if _, err := s.messages.InsertOne(ctx, m); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	_, err := s.conversations.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: m.ConversationID}, {Key: "title", Value: DefaultTitle}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "title", Value: titleFrom(m.Content)}}}},
	)
	if err != nil {
		return fmt.Errorf("rename conversation: %w", err)
	}
	_, err = s.conversations.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: m.ConversationID}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "updated_at", Value: m.CreatedAt}}}},
	)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

func (s *MongoConversationStore) findMessages(ctx context.Context, conversationID string, sort, limit int) ([]Message, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: sort}}).
		SetLimit(int64(limit))
	cur, err := s.messages.Find(ctx, bson.D{{Key: "conversation_id", Value: conversationID}}, opts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	out := []Message{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return out, nil
}

// Messages 按时间正序返回前 limit 条消息
func (s *MongoConversationStore) Messages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.findMessages(ctx, conversationID, 1, limit)
}

// RecentMessages 按时间正序返回最近 limit 条消息
func (s *MongoConversationStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		return []Message{}, nil
	}
	out, err := s.findMessages(ctx, conversationID, -1, limit)
	if err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}
