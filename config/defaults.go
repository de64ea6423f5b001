// =============================================================================
// 📦 KnowledgeFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Database:  DefaultDatabaseConfig(),
		Redis:     DefaultRedisConfig(),
		Mongo:     DefaultMongoConfig(),
		Milvus:    DefaultMilvusConfig(),
		PgVector:  DefaultPgVectorConfig(),
		LLM:       DefaultLLMConfig(),
		Retrieval: DefaultRetrievalConfig(),
		Agent:     DefaultAgentConfig(),
		Chat:      DefaultChatConfig(),
		Auth:      AuthConfig{},
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    50,
		RateLimitBurst:  100,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "knowledgeflow",
		Password:        "",
		Name:            "knowledgeflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		AutoMigrate:     false,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    "kf",
	}
}

// DefaultMongoConfig 返回默认 MongoDB 配置
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:            "",
		Database:       "knowledgeflow",
		ConnectTimeout: 10 * time.Second,
	}
}

// DefaultMilvusConfig 返回默认 Milvus 配置
func DefaultMilvusConfig() MilvusConfig {
	return MilvusConfig{
		Host:            "localhost",
		Port:            19530,
		Database:        "default",
		Collection:      "knowledge_entities",
		VectorDimension: 1536, // text-embedding-3-small
		MetricType:      "COSINE",
		Timeout:         30 * time.Second,
	}
}

// DefaultPgVectorConfig 返回默认 pgvector 配置
func DefaultPgVectorConfig() PgVectorConfig {
	return PgVectorConfig{
		Table:           "entity_embeddings",
		VectorDimension: 1536,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		BaseURL:         "https://api.openai.com/v1",
		APIKey:          "",
		ChatModel:       "gpt-4o-mini",
		EmbeddingModel:  "text-embedding-3-small",
		Timeout:         2 * time.Minute,
		MaxRetries:      2,
		RateLimitRPS:    0,
		RateLimitBurst:  10,
		AvailabilityTTL: 30 * time.Second,
	}
}

// DefaultRetrievalConfig 返回默认检索配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		VectorBackend:      "milvus",
		TopK:               5,
		RRFK:               60,
		VectorTimeout:      10 * time.Second,
		LexicalTimeout:     5 * time.Second,
		GraphTimeout:       5 * time.Second,
		GraphEnabled:       true,
		ContextTokenBudget: 6000,
		RewriteCacheTTL:    10 * time.Minute,
		StreamChunkSize:    20,
	}
}

// DefaultAgentConfig 返回默认 Agent 配置
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		SystemPrompt:  "",
		MaxIterations: 8,
		Temperature:   0.3,
		MaxTokens:     4096,
		CallTimeout:   60 * time.Second,
		ToolTimeout:   30 * time.Second,
	}
}

// DefaultChatConfig 返回默认会话配置
func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		ConversationBackend: "sql",
		HistoryLimit:        20,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "knowledgeflow",
		SampleRate:   0.1,
	}
}
