package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/BaSui01/knowledgeflow/agent"
	"github.com/BaSui01/knowledgeflow/api/handlers"
	"github.com/BaSui01/knowledgeflow/chat"
	"github.com/BaSui01/knowledgeflow/config"
	"github.com/BaSui01/knowledgeflow/internal/cache"
	"github.com/BaSui01/knowledgeflow/internal/database"
	"github.com/BaSui01/knowledgeflow/internal/metrics"
	"github.com/BaSui01/knowledgeflow/internal/server"
	"github.com/BaSui01/knowledgeflow/internal/telemetry"
	"github.com/BaSui01/knowledgeflow/llm"
	"github.com/BaSui01/knowledgeflow/llm/tokenizer"
	"github.com/BaSui01/knowledgeflow/rag"
	"github.com/BaSui01/knowledgeflow/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 KnowledgeFlow 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	otel   *telemetry.Providers
	db     *gorm.DB

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 基础设施
	metricsCollector *metrics.Collector
	pool             *database.PoolManager
	cache            *cache.Manager
	mongo            *store.MongoConversationStore
	gateway          *llm.OpenAIGateway
	milvus           *rag.MilvusIndex

	// 领域组件
	retriever *rag.HybridRetriever
	pipeline  *rag.Pipeline
	registry  *agent.Registry
	runner    *agent.Runner
	chat      *chat.Service

	// Handlers
	healthHandler       *handlers.HealthHandler
	chatHandler         *handlers.ChatHandler
	conversationHandler *handlers.ConversationHandler
	searchHandler       *handlers.SearchHandler
	agentHandler        *handlers.AgentHandler

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, otel *telemetry.Providers, db *gorm.DB) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		otel:   otel,
		db:     db,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 依次初始化基础设施、领域组件与 handlers，再启动两个监听
func (s *Server) Start(ctx context.Context) error {
	s.metricsCollector = metrics.NewCollector("knowledgeflow", s.logger)

	if err := s.initInfrastructure(ctx); err != nil {
		return fmt.Errorf("failed to init infrastructure: %w", err)
	}
	if err := s.initDomain(ctx); err != nil {
		return fmt.Errorf("failed to init domain components: %w", err)
	}
	s.initHandlers()

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.String("http_addr", s.httpManager.Addr()),
		zap.String("metrics_addr", s.metricsManager.Addr()),
		zap.String("vector_backend", s.cfg.Retrieval.VectorBackend),
		zap.String("conversation_backend", s.cfg.Chat.ConversationBackend),
	)
	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initInfrastructure 连接池、缓存与 LLM 网关。Redis 不可用时降级为无缓存运行。
func (s *Server) initInfrastructure(ctx context.Context) error {
	poolCfg := database.DefaultPoolConfig()
	if s.cfg.Database.MaxOpenConns > 0 {
		poolCfg.MaxOpenConns = s.cfg.Database.MaxOpenConns
	}
	if s.cfg.Database.MaxIdleConns > 0 {
		poolCfg.MaxIdleConns = s.cfg.Database.MaxIdleConns
	}
	if s.cfg.Database.ConnMaxLifetime > 0 {
		poolCfg.ConnMaxLifetime = s.cfg.Database.ConnMaxLifetime
	}
	if err := poolCfg.Validate(); err != nil {
		return fmt.Errorf("database pool config: %w", err)
	}
	pool, err := database.NewPoolManager(s.db, poolCfg, s.logger,
		database.WithMetrics(s.metricsCollector),
		database.WithName(s.cfg.Database.Driver),
	)
	if err != nil {
		return err
	}
	s.pool = pool

	if s.cfg.Redis.Addr != "" {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.Addr = s.cfg.Redis.Addr
		cacheCfg.Password = s.cfg.Redis.Password
		cacheCfg.DB = s.cfg.Redis.DB
		if s.cfg.Redis.KeyPrefix != "" {
			cacheCfg.KeyPrefix = s.cfg.Redis.KeyPrefix
		}
		if s.cfg.Redis.PoolSize > 0 {
			cacheCfg.PoolSize = s.cfg.Redis.PoolSize
		}
		if s.cfg.Redis.MinIdleConns > 0 {
			cacheCfg.MinIdleConns = s.cfg.Redis.MinIdleConns
		}
		c, err := cache.NewManager(cacheCfg, s.logger, cache.WithMetrics(s.metricsCollector))
		if err != nil {
			s.logger.Warn("Redis not available, running without cache", zap.Error(err))
		} else {
			s.cache = c
		}
	}

	gatewayOpts := []llm.GatewayOption{llm.WithMetrics(s.metricsCollector)}
	if s.cache != nil {
		gatewayOpts = append(gatewayOpts, llm.WithStatusCache(s.cache))
	}
	s.gateway = llm.NewOpenAIGateway(s.cfg.LLM, s.logger, gatewayOpts...)
	if s.cfg.LLM.APIKey == "" {
		s.logger.Warn("LLM API key not configured, chat requests will fail until it is set")
	}

	return nil
}

// initDomain 构建检索管线、Agent 与会话服务
func (s *Server) initDomain(ctx context.Context) error {
	entities := store.NewEntityStore(s.db, s.metricsCollector, s.logger)
	graph := store.NewGraphStore(s.db, s.metricsCollector, s.logger)

	vectorIndex, vectorWriter, milvus := openVectorIndex(ctx, s.cfg, s.db, s.logger)
	s.milvus = milvus

	s.retriever = rag.NewHybridRetriever(s.gateway, vectorIndex, entities, entities, rag.RetrieverConfig{
		RRFK:           s.cfg.Retrieval.RRFK,
		VectorTimeout:  s.cfg.Retrieval.VectorTimeout,
		LexicalTimeout: s.cfg.Retrieval.LexicalTimeout,
	}, s.metricsCollector, s.logger)

	rewriterOpts := []rag.RewriterOption{rag.WithRewriterMetrics(s.metricsCollector)}
	if s.cache != nil {
		rewriterOpts = append(rewriterOpts, rag.WithRewriteCache(s.cache, s.cfg.Retrieval.RewriteCacheTTL))
	}
	rewriter := rag.NewRewriter(s.gateway, s.logger, rewriterOpts...)

	tk := tokenizer.New(s.cfg.LLM.ChatModel, s.logger)
	assembler := rag.NewAssembler(s.gateway, tk, s.cfg.Retrieval.ContextTokenBudget, s.metricsCollector, s.logger)

	pipelineOpts := []rag.PipelineOption{
		rag.WithDefaultTopK(s.cfg.Retrieval.TopK),
		rag.WithPipelineMetrics(s.metricsCollector),
	}
	if s.cfg.Retrieval.GraphEnabled {
		pipelineOpts = append(pipelineOpts,
			rag.WithGraph(graph),
			rag.WithGraphTimeout(s.cfg.Retrieval.GraphTimeout),
		)
	}
	s.pipeline = rag.NewPipeline(s.gateway, rewriter, s.retriever, assembler, s.logger, pipelineOpts...)

	// Agent 工具集
	s.registry = agent.NewRegistry(s.metricsCollector, s.logger)
	toolOpts := []agent.KnowledgeToolsOption{agent.WithRelations(graph)}
	if vectorWriter != nil {
		toolOpts = append(toolOpts, agent.WithIndexer(rag.NewIndexer(s.gateway, vectorWriter, s.logger)))
	}
	tools := agent.NewKnowledgeTools(entities, s.retriever, s.gateway, s.logger, toolOpts...)
	if err := tools.Register(s.registry, s.cfg.Agent.ToolTimeout); err != nil {
		return fmt.Errorf("register knowledge tools: %w", err)
	}
	s.runner = agent.NewRunner(s.gateway, s.registry, s.cfg.Agent, s.metricsCollector, s.logger)

	// 会话存储
	var conversations store.ConversationStore
	switch s.cfg.Chat.ConversationBackend {
	case "mongo":
		mongo, err := store.NewMongoConversationStore(ctx, s.cfg.Mongo, s.logger)
		if err != nil {
			return fmt.Errorf("connect mongo conversation store: %w", err)
		}
		s.mongo = mongo
		conversations = mongo
	default:
		conversations = store.NewSQLConversationStore(s.db, s.metricsCollector, s.logger)
	}

	s.chat = chat.NewService(conversations, s.pipeline, s.cfg.Chat, s.logger,
		chat.WithAgent(s.runner),
		chat.WithChunkSize(s.cfg.Retrieval.StreamChunkSize),
	)

	s.logger.Info("Domain components initialized",
		zap.Int("agent_tools", s.registry.Len()),
		zap.Bool("graph_enabled", s.cfg.Retrieval.GraphEnabled),
		zap.Bool("vector_enabled", vectorIndex != nil),
	)
	return nil
}

// openVectorIndex 按配置打开向量后端。失败时返回 nil，检索降级为纯关键词。
// 返回值保持无类型 nil，避免把 nil 指针装进接口。
func openVectorIndex(ctx context.Context, cfg *config.Config, db *gorm.DB, logger *zap.Logger) (rag.VectorIndex, rag.VectorWriter, *rag.MilvusIndex) {
	switch cfg.Retrieval.VectorBackend {
	case "milvus":
		m := rag.NewMilvusIndex(cfg.Milvus, logger)
		if err := m.EnsureCollection(ctx); err != nil {
			logger.Warn("Milvus collection not ready, vector search will degrade until it recovers", zap.Error(err))
		}
		return m, m, m
	case "pgvector":
		p, err := rag.NewPgVectorIndex(db, cfg.PgVector, logger)
		if err != nil {
			logger.Warn("pgvector not available, vector search disabled", zap.Error(err))
			return nil, nil, nil
		}
		return p, p, nil
	default:
		logger.Info("Vector backend disabled, retrieval uses keyword matching only")
		return nil, nil, nil
	}
}

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger).WithVersion(Version)
	s.healthHandler.RegisterCheck(handlers.NewPingCheck("database", s.pool.Ping))
	if s.cache != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("redis", s.cache.Ping))
	}
	if s.mongo != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("mongo", s.mongo.Ping))
	}
	if s.milvus != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("milvus", func(ctx context.Context) error {
			_, err := s.milvus.Count(ctx)
			return err
		}))
	}
	s.healthHandler.RegisterCheck(handlers.NewGatewayCheck(s.gateway))

	s.chatHandler = handlers.NewChatHandler(s.chat, originHosts(s.cfg.Server.CORSAllowedOrigins), s.logger)
	s.conversationHandler = handlers.NewConversationHandler(s.chat, s.logger)
	s.searchHandler = handlers.NewSearchHandler(s.retriever, s.logger)
	s.agentHandler = handlers.NewAgentHandler(s.registry, s.logger)

	s.logger.Info("Handlers initialized")
}

// originHosts 把 CORS 来源（https://app.example.com）转换为 WebSocket 的 host 匹配模式
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			hosts = append(hosts, "*")
			continue
		}
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			hosts = append(hosts, o)
			continue
		}
		hosts = append(hosts, u.Host)
	}
	return hosts
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// routes 注册全部路由
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// 对话
	mux.HandleFunc("POST /api/v1/chat/send", s.chatHandler.HandleSend)
	mux.HandleFunc("POST /api/v1/chat/stream", s.chatHandler.HandleStream)
	mux.HandleFunc("GET /api/v1/chat/ws", s.chatHandler.HandleWebSocket)

	// 会话
	mux.HandleFunc("GET /api/v1/conversations", s.conversationHandler.HandleList)
	mux.HandleFunc("POST /api/v1/conversations", s.conversationHandler.HandleCreate)
	mux.HandleFunc("DELETE /api/v1/conversations/{id}", s.conversationHandler.HandleDelete)
	mux.HandleFunc("GET /api/v1/conversations/{id}/messages", s.conversationHandler.HandleMessages)

	// 检索与 Agent
	mux.HandleFunc("GET /api/v1/search", s.searchHandler.HandleSearch)
	mux.HandleFunc("GET /api/v1/agent/tools", s.agentHandler.HandleListTools)

	return mux
}

// startHTTPServer 构建中间件链并启动 API 监听
func (s *Server) startHTTPServer() error {
	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version"}
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel

	handler := Chain(s.routes(),
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(s.metricsCollector),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		Auth(s.cfg.Auth, skipAuthPaths, s.logger),
		RateLimiter(rateLimiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager("api", handler, serverConfig, s.logger)
	return s.httpManager.Start()
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 在独立端口暴露 /metrics
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager("metrics", mux, serverConfig, s.logger)
	return s.metricsManager.Start()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 阻塞到收到 SIGINT/SIGTERM 或任一监听异常退出，然后优雅关闭
func (s *Server) WaitForShutdown() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received")
	case err := <-s.httpManager.Errors():
		s.logger.Error("API server exited unexpectedly", zap.Error(err))
	case err := <-s.metricsManager.Errors():
		s.logger.Error("Metrics server exited unexpectedly", zap.Error(err))
	}

	s.Shutdown()
}

// Shutdown 优雅关闭所有服务。先停监听，再释放下游连接。
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	var errs []error
	if s.httpManager != nil {
		errs = append(errs, s.httpManager.Shutdown(ctx))
	}
	if s.metricsManager != nil {
		errs = append(errs, s.metricsManager.Shutdown(ctx))
	}
	if s.mongo != nil {
		errs = append(errs, s.mongo.Close(ctx))
	}
	if s.cache != nil {
		errs = append(errs, s.cache.Close())
	}
	if s.pool != nil {
		errs = append(errs, s.pool.Close())
	}
	if s.otel != nil {
		flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		errs = append(errs, s.otel.Shutdown(flushCtx))
		cancel()
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("Graceful shutdown completed with errors", zap.Error(err))
		return
	}
	s.logger.Info("Graceful shutdown completed")
}
