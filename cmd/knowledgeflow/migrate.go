package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"github.com/BaSui01/knowledgeflow/config"
	"github.com/BaSui01/knowledgeflow/internal/migration"
)

// =============================================================================
// 数据库迁移命令
// =============================================================================

// migrateArgs 解析后的 migrate 调用
type migrateArgs struct {
	cmd        migration.Command
	configPath string
	dbType     string
	dbURL      string
}

// runMigrate 分发 migrate 子命令
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}
	switch args[0] {
	case "help", "-h", "--help":
		printMigrateUsage()
		return
	}

	parsed, err := parseMigrateArgs(args[0], args[1:], io.Discard)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\n", err)
		printMigrateUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := execMigrate(ctx, parsed, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Migration %s failed: %v\n", parsed.cmd.Op, err)
		os.Exit(1)
	}
}

// parseMigrateArgs 解析子命令与 flag。版本号可以出现在 flag 前后。
func parseMigrateArgs(sub string, args []string, flagOutput io.Writer) (migrateArgs, error) {
	var out migrateArgs

	fs := flag.NewFlagSet("migrate "+sub, flag.ContinueOnError)
	fs.SetOutput(flagOutput)
	fs.StringVar(&out.configPath, "config", "", "Path to config file")
	fs.StringVar(&out.dbType, "db-type", "", "Database type (postgres, mysql, sqlite)")
	fs.StringVar(&out.dbURL, "db-url", "", "Database connection URL")
	all := fs.Bool("all", false, "With down: rollback all migrations")

	var positional []string
	for len(args) > 0 && isPositional(args[0]) {
		positional = append(positional, args[0])
		args = args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return out, err
	}
	positional = append(positional, fs.Args()...)

	switch sub {
	case "up", "status", "version", "reset":
		out.cmd.Op = migration.Op(sub)
	case "down":
		out.cmd.Op = migration.OpDown
		if *all {
			out.cmd.Op = migration.OpReset
		}
	case "goto":
		v, err := versionArg(positional, 32, false)
		if err != nil {
			return out, err
		}
		out.cmd = migration.Command{Op: migration.OpGoto, Version: int(v)}
	case "force":
		v, err := versionArg(positional, 32, true)
		if err != nil {
			return out, err
		}
		out.cmd = migration.Command{Op: migration.OpForce, Version: int(v)}
	default:
		return out, fmt.Errorf("unknown migrate subcommand: %s", sub)
	}

	if out.dbURL != "" && out.dbType == "" {
		return out, fmt.Errorf("--db-url requires --db-type")
	}
	return out, nil
}

// execMigrate 打开迁移器并执行命令
func execMigrate(ctx context.Context, a migrateArgs, out io.Writer) error {
	m, err := openMigrator(a)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	return migration.NewConsole(m, out).Run(ctx, a.cmd)
}

// openMigrator 显式 --db-type/--db-url 优先，否则读配置文件
func openMigrator(a migrateArgs) (*migration.Migrator, error) {
	if a.dbType != "" && a.dbURL != "" {
		return migration.FromURL(a.dbType, a.dbURL, zap.NewNop())
	}

	loader := config.NewLoader()
	if a.configPath != "" {
		loader = loader.WithConfigPath(a.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if a.dbType != "" {
		cfg.Database.Driver = a.dbType
	}

	logger := initLogger(cfg.Log)
	return migration.FromConfig(cfg.Database, logger)
}

// printMigrateUsage 打印 migrate 命令帮助
func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  knowledgeflow migrate <subcommand> [options]

Subcommands:
  up          Apply all pending migrations
  down        Rollback the last migration (--all rolls back everything)
  status      Show migration status
  version     Show current migration version
  goto <v>    Migrate to a specific version
  force <v>   Force set migration version (use with caution, -1 clears it)
  reset       Rollback all migrations
  help        Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  knowledgeflow migrate up
  knowledgeflow migrate up --config /etc/knowledgeflow/config.yaml
  knowledgeflow migrate down --all
  knowledgeflow migrate goto 1
  knowledgeflow migrate force 0`)
}

// versionArg 解析第一个位置参数为版本号。force 允许 -1（清除版本）。
func versionArg(rest []string, bits int, signed bool) (int64, error) {
	if len(rest) < 1 {
		return 0, fmt.Errorf("version argument is required")
	}
	if signed {
		v, err := strconv.ParseInt(rest[0], 10, bits)
		if err != nil {
			return 0, fmt.Errorf("invalid version number: %s", rest[0])
		}
		return v, nil
	}
	v, err := strconv.ParseUint(rest[0], 10, bits)
	if err != nil {
		return 0, fmt.Errorf("invalid version number: %s", rest[0])
	}
	return int64(v), nil
}

// isPositional 非 flag 参数，负数版本号也算
func isPositional(arg string) bool {
	if arg == "" {
		return false
	}
	if arg[0] != '-' {
		return true
	}
	_, err := strconv.Atoi(arg)
	return err == nil
}
