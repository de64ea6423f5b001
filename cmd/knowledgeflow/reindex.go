package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/BaSui01/knowledgeflow/config"
	"github.com/BaSui01/knowledgeflow/llm"
	"github.com/BaSui01/knowledgeflow/rag"
	"github.com/BaSui01/knowledgeflow/store"
)

// =============================================================================
// 🔁 reindex 命令：批量向量化已审核实体
// =============================================================================

func runReindex(args []string) {
	fs := flag.NewFlagSet("reindex", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	envFile := fs.String("env-file", "", "Path to a .env file loaded before environment overrides")
	source := fs.String("source", "", "Only reindex entities from this source")
	workers := fs.Int("workers", 4, "Number of concurrent embedding workers")
	missingOnly := fs.Bool("missing-only", false, "Only index entities that have no vector yet")
	limit := fs.Int("limit", 0, "Maximum number of entities to index (0 = no limit)")
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := reindex(ctx, cfg, logger, store.IndexOptions{
		Source:      strings.TrimSpace(*source),
		OnlyMissing: *missingOnly,
		Limit:       *limit,
	}, *workers)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Reindex failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Reindex finished: %d total, %d indexed, %d failed, %d skipped\n",
		report.Total, report.Indexed, len(report.Failed), report.Skipped)
	for _, id := range report.Failed {
		fmt.Printf("  failed: %s\n", id)
	}
	if len(report.Failed) > 0 || report.Skipped > 0 {
		os.Exit(2)
	}
}

// reindex 打开数据库与向量后端，把可检索实体重新写入向量索引
func reindex(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts store.IndexOptions, workers int) (rag.IndexReport, error) {
	if cfg.Retrieval.VectorBackend != "milvus" && cfg.Retrieval.VectorBackend != "pgvector" {
		return rag.IndexReport{}, fmt.Errorf("no vector backend configured (retrieval.vector_backend=%q)", cfg.Retrieval.VectorBackend)
	}
	if cfg.LLM.APIKey == "" {
		return rag.IndexReport{}, fmt.Errorf("LLM API key not configured, embeddings unavailable")
	}

	db, err := openDatabase(cfg.Database, logger)
	if err != nil {
		return rag.IndexReport{}, err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	_, writer, _ := openVectorIndex(ctx, cfg, db, logger)
	if writer == nil {
		return rag.IndexReport{}, fmt.Errorf("vector backend %q not available", cfg.Retrieval.VectorBackend)
	}

	entities := store.NewEntityStore(db, nil, logger)
	docs, err := entities.Indexable(ctx, opts)
	if err != nil {
		return rag.IndexReport{}, fmt.Errorf("load indexable entities: %w", err)
	}
	logger.Info("Reindexing entities",
		zap.Int("count", len(docs)),
		zap.String("source", opts.Source),
		zap.Bool("missing_only", opts.OnlyMissing),
		zap.Int("workers", workers),
	)

	gateway := llm.NewOpenAIGateway(cfg.LLM, logger)
	indexer := rag.NewIndexer(gateway, writer, logger)
	return indexer.IndexAll(ctx, docs, workers, entities.MarkIndexed), nil
}
