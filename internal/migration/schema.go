package migration

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations/postgres/*.sql
var postgresFS embed.FS

//go:embed migrations/mysql/*.sql
var mysqlFS embed.FS

//go:embed migrations/sqlite/*.sql
var sqliteFS embed.FS

// Dialect 迁移文件所属的 SQL 方言
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

// ParseDialect 接受 config.DatabaseConfig.Driver 的各种常见写法
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pg":
		return DialectPostgres, nil
	case "mysql", "mariadb":
		return DialectMySQL, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database dialect: %q", s)
	}
}

// sqlDriver database/sql 驱动名。sqlite 走 mattn/go-sqlite3 注册的 "sqlite3"，
// 与 gorm 侧 glebarez 注册的 "sqlite" 不冲突。
func (d Dialect) sqlDriver() string {
	if d == DialectSQLite {
		return "sqlite3"
	}
	return string(d)
}

// dir embed.FS 内的目录，始终使用正斜杠
func (d Dialect) dir() string {
	return path.Join("migrations", string(d))
}

func (d Dialect) files() (fs.FS, error) {
	switch d {
	case DialectPostgres:
		return postgresFS, nil
	case DialectMySQL:
		return mysqlFS, nil
	case DialectSQLite:
		return sqliteFS, nil
	default:
		return nil, fmt.Errorf("unsupported database dialect: %q", d)
	}
}

// Step 一个版本化的 Schema 变更
type Step struct {
	Version uint   `json:"version"`
	Name    string `json:"name"`
	Applied bool   `json:"applied"`
	Dirty   bool   `json:"dirty"`
}

// Catalog 列出某方言内嵌的全部迁移，按版本升序。
// 只有 up/down 成对存在的版本才会被列出。
func Catalog(d Dialect) ([]Step, error) {
	fsys, err := d.files()
	if err != nil {
		return nil, err
	}
	entries, err := fs.ReadDir(fsys, d.dir())
	if err != nil {
		return nil, fmt.Errorf("read %s migrations: %w", d, err)
	}

	ups := make(map[uint]string)
	downs := make(map[uint]bool)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		version, name, direction, ok := parseFileName(e.Name())
		if !ok {
			continue
		}
		switch direction {
		case "up":
			ups[version] = name
		case "down":
			downs[version] = true
		}
	}

	steps := make([]Step, 0, len(ups))
	for v, name := range ups {
		if !downs[v] {
			return nil, fmt.Errorf("%s migration %06d_%s has no down file", d, v, name)
		}
		steps = append(steps, Step{Version: v, Name: name})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Version < steps[j].Version })
	return steps, nil
}

// parseFileName 解析 000001_knowledge_schema.up.sql
func parseFileName(file string) (version uint, name, direction string, ok bool) {
	base, found := strings.CutSuffix(file, ".sql")
	if !found {
		return 0, "", "", false
	}
	dot := strings.LastIndexByte(base, '.')
	if dot < 0 {
		return 0, "", "", false
	}
	base, direction = base[:dot], base[dot+1:]
	if direction != "up" && direction != "down" {
		return 0, "", "", false
	}
	num, name, found := strings.Cut(base, "_")
	if !found || name == "" {
		return 0, "", "", false
	}
	v, err := strconv.ParseUint(num, 10, 32)
	if err != nil {
		return 0, "", "", false
	}
	return uint(v), name, direction, true
}
