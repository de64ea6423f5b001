package store

import "time"

// 审核状态
const (
	ReviewPending  = "pending"
	ReviewApproved = "approved"
	ReviewRejected = "rejected"
)

// 标签类型
const (
	TagTypeFolder  = "folder"
	TagTypeContent = "content"
)

// Entity 知识实体
type Entity struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	Source         string    `gorm:"size:64;not null;index" json:"source"`
	Title          string    `gorm:"not null" json:"title"`
	Content        string    `gorm:"not null;default:''" json:"content"`
	ContentType    string    `gorm:"size:32;not null;default:text" json:"content_type"`
	CurrentVersion int       `gorm:"not null;default:1" json:"current_version"`
	ReviewStatus   string    `gorm:"size:32;not null;default:pending;index" json:"review_status"`
	CreatedBy      string    `gorm:"size:64;not null;default:''" json:"created_by"`
	ObsidianPath   *string   `json:"obsidian_path,omitempty"`
	VectorID       *string   `gorm:"size:64" json:"vector_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `gorm:"index" json:"updated_at"`
}

// TableName 表名
func (Entity) TableName() string { return "entities" }

// EntityVersion 实体版本快照
type EntityVersion struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	EntityID  string    `gorm:"size:36;not null;uniqueIndex:idx_entity_version" json:"entity_id"`
	Version   int       `gorm:"not null;uniqueIndex:idx_entity_version" json:"version"`
	Title     string    `gorm:"not null" json:"title"`
	Content   string    `gorm:"not null;default:''" json:"content"`
	CreatedBy string    `gorm:"size:64;not null;default:''" json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName 表名
func (EntityVersion) TableName() string { return "entity_versions" }

// FolderTag 目录树标签
type FolderTag struct {
	ID        string  `gorm:"primaryKey;size:36" json:"id"`
	Name      string  `gorm:"not null" json:"name"`
	ParentID  *string `gorm:"size:36" json:"parent_id"`
	Path      string  `gorm:"not null;default:''" json:"path"`
	SortOrder int     `gorm:"not null;default:0" json:"-"`
}

// TableName 表名
func (FolderTag) TableName() string { return "tag_tree" }

// ContentTag 内容标签
type ContentTag struct {
	ID         string `gorm:"primaryKey;size:36" json:"id"`
	Name       string `gorm:"not null;uniqueIndex" json:"name"`
	Color      string `gorm:"not null;default:''" json:"color"`
	UsageCount int    `gorm:"not null;default:0" json:"usage_count"`
}

// TableName 表名
func (ContentTag) TableName() string { return "content_tags" }

// StatusDimension 状态维度，Options 为 JSON 数组
type StatusDimension struct {
	ID          string `gorm:"primaryKey;size:36" json:"id"`
	Name        string `gorm:"not null;uniqueIndex" json:"name"`
	Options     string `gorm:"not null;default:'[]'" json:"-"`
	Description string `gorm:"not null;default:''" json:"description"`
}

// TableName 表名
func (StatusDimension) TableName() string { return "status_dimensions" }

// EntityTag 实体与标签的关联
type EntityTag struct {
	EntityID string `gorm:"primaryKey;size:36"`
	TagID    string `gorm:"primaryKey;size:36"`
	TagType  string `gorm:"primaryKey;size:16"`
}

// TableName 表名
func (EntityTag) TableName() string { return "entity_tags" }

// EntityRelation 实体间的有向关系
type EntityRelation struct {
	ID           uint   `gorm:"primaryKey"`
	FromEntityID string `gorm:"size:36;not null;index"`
	ToEntityID   string `gorm:"size:36;not null;index"`
	RelType      string `gorm:"size:64;not null"`
	CreatedAt    time.Time
}

// TableName 表名
func (EntityRelation) TableName() string { return "entity_relations" }

// Conversation 会话
type Conversation struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id" bson:"_id"`
	UserID    string    `gorm:"size:64;not null;default:''" json:"user_id,omitempty" bson:"user_id"`
	Title     string    `gorm:"not null;default:''" json:"title" bson:"title"`
	Summary   string    `gorm:"not null;default:''" json:"summary" bson:"summary"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at" bson:"updated_at"`
}

// TableName 表名
func (Conversation) TableName() string { return "conversations" }

// Message 会话消息。Sources 与 ToolCalls 以 JSON 文本保存。
type Message struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id" bson:"_id"`
	ConversationID string    `gorm:"size:36;not null;index:idx_messages_conversation" json:"conversation_id" bson:"conversation_id"`
	Role           string    `gorm:"size:16;not null" json:"role" bson:"role"`
	Content        string    `gorm:"not null;default:''" json:"content" bson:"content"`
	Sources        *string   `json:"-" bson:"sources,omitempty"`
	ToolCalls      *string   `json:"-" bson:"tool_calls,omitempty"`
	CreatedAt      time.Time `gorm:"index:idx_messages_conversation" json:"created_at" bson:"created_at"`
}

// TableName 表名
func (Message) TableName() string { return "messages" }

// AllModels 返回所有表模型，供 AutoMigrate 使用
func AllModels() []any {
	return []any{
		&Entity{}, &EntityVersion{}, &FolderTag{}, &ContentTag{}, &StatusDimension{},
		&EntityTag{}, &EntityRelation{}, &Conversation{}, &Message{},
	}
}
