package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- DefaultConfig aggregate ---

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEqual(t, DatabaseConfig{}, cfg.Database)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, MongoConfig{}, cfg.Mongo)
	assert.NotEqual(t, MilvusConfig{}, cfg.Milvus)
	assert.NotEqual(t, PgVectorConfig{}, cfg.PgVector)
	assert.NotEqual(t, LLMConfig{}, cfg.LLM)
	assert.NotEqual(t, RetrievalConfig{}, cfg.Retrieval)
	assert.NotEqual(t, AgentConfig{}, cfg.Agent)
	assert.NotEqual(t, ChatConfig{}, cfg.Chat)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
	assert.NoError(t, cfg.Validate())
}

// --- Individual Default*Config functions ---

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9091, cfg.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.WriteTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 50, cfg.RateLimitRPS)
	assert.Equal(t, 100, cfg.RateLimitBurst)
	assert.Empty(t, cfg.CORSAllowedOrigins)
}

func TestDefaultRetrievalConfig(t *testing.T) {
	cfg := DefaultRetrievalConfig()
	assert.Equal(t, "milvus", cfg.VectorBackend)
	assert.Equal(t, 5, cfg.TopK)
	assert.Equal(t, 60, cfg.RRFK)
	assert.Equal(t, 20, cfg.StreamChunkSize)
	assert.True(t, cfg.GraphEnabled)
	assert.Equal(t, 10*time.Second, cfg.VectorTimeout)
	assert.Equal(t, 5*time.Second, cfg.LexicalTimeout)
	assert.Equal(t, 5*time.Second, cfg.GraphTimeout)
}

func TestDefaultAgentConfig(t *testing.T) {
	cfg := DefaultAgentConfig()
	assert.Equal(t, 8, cfg.MaxIterations)
	assert.InDelta(t, 0.3, cfg.Temperature, 0.001)
	assert.Equal(t, 4096, cfg.MaxTokens)
	assert.Equal(t, 60*time.Second, cfg.CallTimeout)
	assert.Empty(t, cfg.SystemPrompt)
}

func TestDefaultLLMConfig(t *testing.T) {
	cfg := DefaultLLMConfig()
	assert.Equal(t, "https://api.openai.com/v1", cfg.BaseURL)
	assert.Equal(t, "text-embedding-3-small", cfg.EmbeddingModel)
	assert.NotEmpty(t, cfg.ChatModel)
	assert.Empty(t, cfg.APIKey)
	assert.Equal(t, 30*time.Second, cfg.AvailabilityTTL)
}

func TestDefaultDatabaseConfig(t *testing.T) {
	cfg := DefaultDatabaseConfig()
	assert.Equal(t, "postgres", cfg.Driver)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "knowledgeflow", cfg.Name)
	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.False(t, cfg.AutoMigrate)
}

func TestDefaultChatConfig(t *testing.T) {
	cfg := DefaultChatConfig()
	assert.Equal(t, "sql", cfg.ConversationBackend)
	assert.Equal(t, 20, cfg.HistoryLimit)
}

func TestDefaultVectorDimensionsAgree(t *testing.T) {
	assert.Equal(t, DefaultMilvusConfig().VectorDimension, DefaultPgVectorConfig().VectorDimension)
}

func TestJWTConfig_Enabled(t *testing.T) {
	assert.False(t, JWTConfig{}.Enabled())
	assert.True(t, JWTConfig{Secret: "s"}.Enabled())
	assert.True(t, JWTConfig{PublicKey: "pem"}.Enabled())
}
