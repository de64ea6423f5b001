/*
Package store 提供知识实体、图谱关系与会话的持久化。

  - [EntityStore]：实体查询、词法检索、标签与统计，实现 rag.LexicalStore 与 rag.EntityLookup
  - [GraphStore]：基于 entity_relations 表的关系查询，实现 rag.GraphStore
  - [ConversationStore]：会话与消息，提供 gorm（[SQLConversationStore]）
    与 MongoDB（[MongoConversationStore]）两种实现

表结构由 internal/migration 管理，[AutoMigrate] 仅用于 sqlite 开发库与测试。
*/
package store
