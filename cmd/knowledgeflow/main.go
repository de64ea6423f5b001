// =============================================================================
// KnowledgeFlow 主入口
// =============================================================================
// 对话式检索服务入口点，包含 HTTP/SSE/WebSocket 服务、健康检查、Prometheus 指标
//
// 使用方法:
//
//	knowledgeflow serve                       # 启动服务
//	knowledgeflow serve --config config.yaml  # 指定配置文件
//	knowledgeflow version                     # 显示版本信息
//	knowledgeflow health                      # 健康检查
//	knowledgeflow migrate up                  # 运行数据库迁移
//	knowledgeflow migrate down                # 回滚最后一次迁移
//	knowledgeflow migrate status              # 查看迁移状态
//	knowledgeflow reindex --missing-only      # 向量化尚未入索引的实体
// =============================================================================

// @title KnowledgeFlow API
// @version 1.0.0
// @description KnowledgeFlow answers questions over a personal knowledge base.
// @description
// @description ## Features
// @description - Hybrid retrieval (vector + keyword) fused with reciprocal rank fusion
// @description - Follow-up question rewriting and knowledge graph context
// @description - Tool-calling agent mode over the knowledge base
// @description - Streaming responses via SSE and WebSocket

// @contact.name KnowledgeFlow Team
// @contact.url https://github.com/BaSui01/knowledgeflow

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
// @description API key for authentication

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"

	"github.com/BaSui01/knowledgeflow/config"
	"github.com/BaSui01/knowledgeflow/internal/database"
	"github.com/BaSui01/knowledgeflow/internal/telemetry"
	"github.com/BaSui01/knowledgeflow/store"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "reindex":
		runReindex(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	envFile := fs.String("env-file", "", "Path to a .env file loaded before environment overrides")
	_ = fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	if *envFile != "" {
		loader = loader.WithDotEnv(*envFile)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting KnowledgeFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx := context.Background()

	otelProviders, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	// 关系库是实体、标签、关系与会话的唯一真相源，不可用时直接退出
	db, err := openDatabase(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Database not available", zap.Error(err))
	}
	if cfg.Database.AutoMigrate {
		if err := store.AutoMigrate(ctx, db); err != nil {
			logger.Fatal("Database auto-migrate failed", zap.Error(err))
		}
		logger.Info("Database schema migrated")
	}

	server := NewServer(cfg, logger, otelProviders, db)

	if err := server.Start(ctx); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	server.WaitForShutdown()

	logger.Info("KnowledgeFlow stopped")
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	ready := fs.Bool("ready", false, "Check /ready (dependencies) instead of /health")
	_ = fs.Parse(args)

	path := "/health"
	if *ready {
		path = "/ready"
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("KnowledgeFlow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`KnowledgeFlow - Conversational retrieval over your knowledge base

Usage:
  knowledgeflow <command> [options]

Commands:
  serve     Start the KnowledgeFlow server
  migrate   Database migration commands
  reindex   Re-embed approved entities into the vector index
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>     Path to configuration file (YAML)
  --env-file <path>   Path to a .env file

Options for 'reindex':
  --config <path>     Path to configuration file (YAML)
  --env-file <path>   Path to a .env file
  --source <name>     Only reindex entities from this source
  --workers <n>       Concurrent embedding workers (default: 4)
  --missing-only      Skip entities that already have a vector
  --limit <n>         Maximum number of entities (default: no limit)

Options for 'health':
  --addr <url>        Server address (default: http://localhost:8080)
  --ready             Check dependency readiness instead of liveness

Migration subcommands:
  migrate up        Apply all pending migrations
  migrate down      Rollback the last migration
  migrate status    Show migration status
  migrate version   Show current migration version
  migrate goto <v>  Migrate to a specific version
  migrate force <v> Force set migration version
  migrate reset     Rollback all migrations

Examples:
  knowledgeflow serve
  knowledgeflow serve --config /etc/knowledgeflow/config.yaml
  knowledgeflow migrate up
  knowledgeflow migrate status
  knowledgeflow reindex --source notes --workers 8
  knowledgeflow health --addr http://localhost:8080 --ready
  knowledgeflow version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}

	return logger
}

// openDatabase 根据配置打开数据库连接
func openDatabase(dbCfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	if dbCfg.Driver == "" {
		return nil, fmt.Errorf("database driver not configured")
	}

	db, err := database.Open(dbCfg.Driver, dbCfg.DSN())
	if err != nil {
		return nil, err
	}

	logger.Info("Database connected", zap.String("driver", dbCfg.Driver))
	return db, nil
}
