package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	"OnChainAgents/deploy/migrations"
)

const (
	createSchemaTableSQL = `CREATE TABLE IF NOT EXISTS identity_schema_versions (
    version INT NOT NULL PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    applied_at BIGINT NOT NULL
)`
	appliedVersionsSQL = `SELECT version FROM identity_schema_versions`
	recordVersionSQL   = `INSERT INTO identity_schema_versions (version, name, applied_at) VALUES (?, ?, ?)`
)

// migration 对应一个形如 0001_xxx.sql 的文件。
type migration struct {
	version    int
	name       string
	statements []string
}

// schema 把 deploy/migrations 中的 SQL 同步到身份库。
type schema struct {
	files fs.FS
	now   func() time.Time
}

func newSchema() schema {
	return schema{files: migrations.Files, now: time.Now}
}

// sync 按版本升序执行尚未应用的迁移，每个文件一个事务。
func (s schema) sync(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, createSchemaTableSQL); err != nil {
		return fmt.Errorf("创建版本表失败: %w", err)
	}
	applied, err := s.applied(ctx, db)
	if err != nil {
		return err
	}
	todo, err := s.pending(applied)
	if err != nil {
		return err
	}
	for _, m := range todo {
		if err := s.apply(ctx, db, m); err != nil {
			return err
		}
	}
	return nil
}

func (s schema) applied(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, appliedVersionsSQL)
	if err != nil {
		return nil, fmt.Errorf("读取已应用版本失败: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("解析版本号失败: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// pending 返回未在 applied 中出现的迁移。文件名必须以数字版本开头且版本唯一。
func (s schema) pending(applied map[int]bool) ([]migration, error) {
	names, err := fs.Glob(s.files, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("列出迁移文件失败: %w", err)
	}

	seen := make(map[int]string, len(names))
	var out []migration
	for _, name := range names {
		prefix, _, _ := strings.Cut(name, "_")
		version, err := strconv.Atoi(strings.TrimSuffix(prefix, ".sql"))
		if err != nil {
			return nil, fmt.Errorf("迁移文件 %s 缺少数字版本前缀", name)
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("迁移文件 %s 与 %s 版本重复", name, other)
		}
		seen[version] = name
		if applied[version] {
			continue
		}

		body, err := fs.ReadFile(s.files, name)
		if err != nil {
			return nil, fmt.Errorf("读取迁移文件 %s 失败: %w", name, err)
		}
		if stmts := statements(string(body)); len(stmts) > 0 {
			out = append(out, migration{version: version, name: name, statements: stmts})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func (s schema) apply(ctx context.Context, db *sql.DB, m migration) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启迁移事务失败: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for i, stmt := range m.statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("迁移 %s 第 %d 条语句失败: %w", m.name, i+1, err)
		}
	}
	if _, err = tx.ExecContext(ctx, recordVersionSQL, m.version, m.name, s.now().Unix()); err != nil {
		return fmt.Errorf("记录迁移 %s 失败: %w", m.name, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("提交迁移 %s 失败: %w", m.name, err)
	}
	return nil
}

// statements 去掉整行 -- 注释后按分号切分。
func statements(body string) []string {
	var kept strings.Builder
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		kept.WriteString(line)
		kept.WriteByte('\n')
	}

	var out []string
	for _, stmt := range strings.Split(kept.String(), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
